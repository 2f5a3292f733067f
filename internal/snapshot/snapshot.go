// Package snapshot holds the single authoritative balance state of the
// connected wallet and notifies subscribers on every accepted change.
package snapshot

import (
	"sort"

	"wallet-sync/internal/domain"
)

// Snapshot is the complete state of all known balances plus loading/error status.
// Values returned by Store are copies; mutating them does not affect the Store.
type Snapshot struct {
	Session     domain.WalletSession
	Native      *domain.NativeBalance
	Delegations []domain.DelegationBalance
	Tokens      map[string]domain.TokenBalance // keyed by normalized contract address
	Loading     map[domain.SourceID]struct{}
	LastError   map[domain.SourceID]domain.ErrorKind
}

func emptySnapshot(session domain.WalletSession) Snapshot {
	return Snapshot{
		Session:     session,
		Delegations: []domain.DelegationBalance{},
		Tokens:      make(map[string]domain.TokenBalance),
		Loading:     make(map[domain.SourceID]struct{}),
		LastError:   make(map[domain.SourceID]domain.ErrorKind),
	}
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Session:     s.Session,
		Delegations: make([]domain.DelegationBalance, len(s.Delegations)),
		Tokens:      make(map[string]domain.TokenBalance, len(s.Tokens)),
		Loading:     make(map[domain.SourceID]struct{}, len(s.Loading)),
		LastError:   make(map[domain.SourceID]domain.ErrorKind, len(s.LastError)),
	}
	if s.Native != nil {
		native := *s.Native
		out.Native = &native
	}
	copy(out.Delegations, s.Delegations)
	for k, v := range s.Tokens {
		out.Tokens[k] = v
	}
	for k := range s.Loading {
		out.Loading[k] = struct{}{}
	}
	for k, v := range s.LastError {
		out.LastError[k] = v
	}
	return out
}

// IsLoading reports whether a fetch for source is in flight.
func (s Snapshot) IsLoading(source domain.SourceID) bool {
	_, ok := s.Loading[source]
	return ok
}

// LoadingSources returns the in-flight sources in lexical order.
func (s Snapshot) LoadingSources() []domain.SourceID {
	out := make([]domain.SourceID, 0, len(s.Loading))
	for id := range s.Loading {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TokenList returns token balances ordered by symbol, then contract address.
func (s Snapshot) TokenList() []domain.TokenBalance {
	out := make([]domain.TokenBalance, 0, len(s.Tokens))
	for _, t := range s.Tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].ContractAddress < out[j].ContractAddress
	})
	return out
}

// IsEmpty reports whether the snapshot holds no balances, loading or error state.
func (s Snapshot) IsEmpty() bool {
	return s.Native == nil &&
		len(s.Delegations) == 0 &&
		len(s.Tokens) == 0 &&
		len(s.Loading) == 0 &&
		len(s.LastError) == 0
}

// Result is the outcome of one source fetch.
// Exactly one payload field is meaningful for a given source; Err marks a failure.
type Result struct {
	Native      *domain.NativeBalance
	Delegations []domain.DelegationBalance
	Token       *domain.TokenBalance
	Err         error
}
