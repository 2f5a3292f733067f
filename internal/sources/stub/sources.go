// Package stub provides in-memory source adapters for tests.
// Results, errors and blocking are configurable per stub; every call is recorded.
package stub

import (
	"context"
	"sync"

	"wallet-sync/internal/domain"
)

// StubNativeSource returns fixed native balances keyed by address.
// Unknown addresses get a zero balance in the configured denom.
// Implements sources.NativeSource interface.
type StubNativeSource struct {
	mu       sync.Mutex
	denom    string
	balances map[string]string
	err      error
	calls    []string
	gate     gate
}

// NewStubNativeSource creates a stub returning amounts (address -> amount) in denom.
func NewStubNativeSource(denom string, amounts map[string]string) *StubNativeSource {
	b := make(map[string]string, len(amounts))
	for k, v := range amounts {
		b[k] = v
	}
	return &StubNativeSource{denom: denom, balances: b}
}

// SetAmount sets the amount returned for address.
func (s *StubNativeSource) SetAmount(address, amount string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[address] = amount
}

// SetError makes subsequent calls fail with err. nil restores success.
func (s *StubNativeSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Block holds subsequent calls until release is called.
func (s *StubNativeSource) Block() (release func()) {
	return s.gate.block()
}

// Blocked returns how many calls have been held by Block.
func (s *StubNativeSource) Blocked() int {
	return s.gate.blocked()
}

// Calls returns the addresses of all calls in order.
func (s *StubNativeSource) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// FetchNative returns the configured balance for address.
func (s *StubNativeSource) FetchNative(ctx context.Context, address string) (*domain.NativeBalance, error) {
	s.mu.Lock()
	s.calls = append(s.calls, address)
	s.mu.Unlock()

	if err := s.gate.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	amount, ok := s.balances[address]
	if !ok {
		amount = "0"
	}
	return &domain.NativeBalance{Denom: s.denom, Amount: amount}, nil
}

// StubDelegationSource returns fixed delegations keyed by address.
// Implements sources.DelegationSource interface.
type StubDelegationSource struct {
	mu          sync.Mutex
	delegations map[string][]domain.DelegationBalance
	err         error
	calls       []string
	gate        gate
}

// NewStubDelegationSource creates a new stub delegation source.
func NewStubDelegationSource(delegations map[string][]domain.DelegationBalance) *StubDelegationSource {
	d := make(map[string][]domain.DelegationBalance, len(delegations))
	for k, v := range delegations {
		d[k] = append([]domain.DelegationBalance(nil), v...)
	}
	return &StubDelegationSource{delegations: d}
}

// SetDelegations sets the delegations returned for address.
func (s *StubDelegationSource) SetDelegations(address string, delegations []domain.DelegationBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegations[address] = append([]domain.DelegationBalance(nil), delegations...)
}

// SetError makes subsequent calls fail with err. nil restores success.
func (s *StubDelegationSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Block holds subsequent calls until release is called.
func (s *StubDelegationSource) Block() (release func()) {
	return s.gate.block()
}

// Blocked returns how many calls have been held by Block.
func (s *StubDelegationSource) Blocked() int {
	return s.gate.blocked()
}

// Calls returns the addresses of all calls in order.
func (s *StubDelegationSource) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// FetchDelegations returns copies of the configured delegations.
func (s *StubDelegationSource) FetchDelegations(ctx context.Context, address string) ([]domain.DelegationBalance, error) {
	s.mu.Lock()
	s.calls = append(s.calls, address)
	s.mu.Unlock()

	if err := s.gate.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	result := make([]domain.DelegationBalance, len(s.delegations[address]))
	copy(result, s.delegations[address])
	return result, nil
}

// TokenCall records one FetchTokenBalance call.
type TokenCall struct {
	Owner    string
	Contract string
}

// StubTokenSource returns fixed token balances keyed by normalized contract.
// Unknown contracts get a zero balance with empty metadata.
// Implements sources.TokenSource interface.
type StubTokenSource struct {
	mu     sync.Mutex
	tokens map[string]domain.TokenBalance
	errs   map[string]error
	err    error
	calls  []TokenCall
	gate   gate
}

// NewStubTokenSource creates a new stub token source.
func NewStubTokenSource(tokens []domain.TokenBalance) *StubTokenSource {
	s := &StubTokenSource{
		tokens: make(map[string]domain.TokenBalance),
		errs:   make(map[string]error),
	}
	for _, t := range tokens {
		s.tokens[domain.NormalizeContract(t.ContractAddress)] = t
	}
	return s
}

// SetToken sets the balance returned for a contract.
func (s *StubTokenSource) SetToken(t domain.TokenBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[domain.NormalizeContract(t.ContractAddress)] = t
}

// SetError makes subsequent calls for every contract fail with err.
func (s *StubTokenSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SetContractError makes subsequent calls for one contract fail with err.
func (s *StubTokenSource) SetContractError(contract string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, domain.NormalizeContract(contract))
		return
	}
	s.errs[domain.NormalizeContract(contract)] = err
}

// Block holds subsequent calls until release is called.
func (s *StubTokenSource) Block() (release func()) {
	return s.gate.block()
}

// Blocked returns how many calls have been held by Block.
func (s *StubTokenSource) Blocked() int {
	return s.gate.blocked()
}

// Calls returns all calls in order.
func (s *StubTokenSource) Calls() []TokenCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TokenCall(nil), s.calls...)
}

// ResetCalls clears the call log.
func (s *StubTokenSource) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// FetchTokenBalance returns the configured balance for contract.
func (s *StubTokenSource) FetchTokenBalance(ctx context.Context, owner, contract string) (*domain.TokenBalance, error) {
	key := domain.NormalizeContract(contract)

	s.mu.Lock()
	s.calls = append(s.calls, TokenCall{Owner: owner, Contract: key})
	s.mu.Unlock()

	if err := s.gate.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[key]; err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	t, ok := s.tokens[key]
	if !ok {
		t = domain.TokenBalance{Amount: "0"}
	}
	t.ContractAddress = key
	return &t, nil
}
