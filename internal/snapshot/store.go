package snapshot

import (
	"errors"
	"fmt"
	"io"
	"log"
	"runtime/debug"
	"sync"

	"wallet-sync/internal/domain"
)

// Store errors.
var (
	// ErrStaleGeneration is returned when a mutation carries a generation that
	// is no longer current. The mutation is discarded; it is not a user-visible error.
	ErrStaleGeneration = errors.New("stale generation: result discarded")

	// ErrUnknownSource is returned for source IDs the store cannot merge.
	ErrUnknownSource = errors.New("unknown source")

	// ErrAlreadyLoading is returned by MarkLoading when a fetch for the
	// source is already in flight in the current generation.
	ErrAlreadyLoading = errors.New("source already loading")
)

// Subscriber receives a copy of the snapshot after every accepted mutation.
// A subscriber may call back into the Store, including mutations; the
// resulting notification is queued behind the one being delivered.
type Subscriber func(Snapshot)

// notification is one committed state waiting for delivery.
type notification struct {
	snap Snapshot
	subs []Subscriber
}

// Store exclusively owns the Snapshot. All mutations go through its methods
// and are applied atomically; notifications follow in mutation order.
type Store struct {
	mu     sync.Mutex
	snap   Snapshot
	subs   map[uint64]Subscriber
	nextID uint64

	// tokenEpoch counts RemoveToken calls per contract. It survives
	// session changes.
	tokenEpoch map[string]uint64

	// pending is drained by one goroutine at a time, in commit order.
	pending  []notification
	draining bool

	logger *log.Logger
}

// Options for creating Store.
type Options struct {
	Logger *log.Logger
}

// NewStore creates a store holding an empty, disconnected snapshot at generation 0.
func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		snap:       emptySnapshot(domain.WalletSession{}),
		subs:       make(map[uint64]Subscriber),
		tokenEpoch: make(map[string]uint64),
		logger:     logger,
	}
}

// GetSnapshot returns a copy of the current snapshot.
func (s *Store) GetSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// Session returns the current wallet session.
func (s *Store) Session() domain.WalletSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Session
}

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is a no-op.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// BeginSession replaces the session with a connected one for addrs,
// increments the generation and clears all balances of the previous session.
func (s *Store) BeginSession(addrs domain.WalletAddresses) domain.WalletSession {
	s.mu.Lock()
	session := domain.WalletSession{
		EthAddress:    addrs.EthAddress,
		CosmosAddress: addrs.CosmosAddress,
		Connected:     true,
		Generation:    s.snap.Session.Generation + 1,
	}
	s.snap = emptySnapshot(session)
	s.commitLocked()
	return session
}

// EndSession disconnects, increments the generation and resets the snapshot
// to empty. Results of fetches dispatched before this call are discarded on arrival.
func (s *Store) EndSession() domain.WalletSession {
	s.mu.Lock()
	session := domain.WalletSession{Generation: s.snap.Session.Generation + 1}
	s.snap = emptySnapshot(session)
	s.commitLocked()
	return session
}

// MarkLoading adds source to the loading set if generation is current.
// Returns ErrAlreadyLoading if source is already in the set; the caller
// should not start a second fetch.
func (s *Store) MarkLoading(source domain.SourceID, generation uint64) error {
	return s.markLoading(source, generation, nil)
}

// MarkTokenLoading is MarkLoading for a token source, additionally
// rejecting an epoch captured before the last RemoveToken of contract.
func (s *Store) MarkTokenLoading(contract string, generation, epoch uint64) error {
	key := domain.NormalizeContract(contract)
	return s.markLoading(domain.TokenSource(key), generation, s.epochCheck(key, epoch))
}

// MergeSource applies the result of one source fetch.
//
// A result whose generation is not current is discarded without mutation or
// notification (ErrStaleGeneration). On success the source's previous
// contribution is replaced and its error cleared. On failure the error kind
// is recorded and the last known value of the source is kept.
// In both cases the source leaves the loading set.
func (s *Store) MergeSource(source domain.SourceID, generation uint64, result Result) error {
	return s.merge(source, generation, nil, result)
}

// MergeToken is MergeSource for a token source. A result fetched under an
// epoch older than the contract's current one is discarded like a stale
// generation.
func (s *Store) MergeToken(contract string, generation, epoch uint64, result Result) error {
	key := domain.NormalizeContract(contract)
	return s.merge(domain.TokenSource(key), generation, s.epochCheck(key, epoch), result)
}

// TokenEpoch returns the current removal epoch of contract.
// Token fetches capture it before MarkTokenLoading.
func (s *Store) TokenEpoch(contract string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenEpoch[domain.NormalizeContract(contract)]
}

// RemoveToken drops a token's balance, loading and error state and bumps
// its epoch, so fetches dispatched before the call are discarded on arrival.
// Notifies only if there was state to drop.
func (s *Store) RemoveToken(contract string) {
	key := domain.NormalizeContract(contract)
	source := domain.TokenSource(key)

	s.mu.Lock()
	s.tokenEpoch[key]++
	_, hasToken := s.snap.Tokens[key]
	_, loading := s.snap.Loading[source]
	_, failed := s.snap.LastError[source]
	if !hasToken && !loading && !failed {
		s.mu.Unlock()
		return
	}
	delete(s.snap.Tokens, key)
	delete(s.snap.Loading, source)
	delete(s.snap.LastError, source)
	s.commitLocked()
}

// epochCheck returns a predicate evaluated under mu.
func (s *Store) epochCheck(key string, epoch uint64) func() bool {
	return func() bool { return s.tokenEpoch[key] == epoch }
}

func (s *Store) markLoading(source domain.SourceID, generation uint64, current func() bool) error {
	if !source.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}

	s.mu.Lock()
	if generation != s.snap.Session.Generation || (current != nil && !current()) {
		s.mu.Unlock()
		return ErrStaleGeneration
	}
	if _, ok := s.snap.Loading[source]; ok {
		s.mu.Unlock()
		return ErrAlreadyLoading
	}
	s.snap.Loading[source] = struct{}{}
	s.commitLocked()
	return nil
}

func (s *Store) merge(source domain.SourceID, generation uint64, current func() bool, result Result) error {
	if !source.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}

	s.mu.Lock()
	if generation != s.snap.Session.Generation || (current != nil && !current()) {
		s.mu.Unlock()
		return ErrStaleGeneration
	}

	delete(s.snap.Loading, source)
	if result.Err != nil {
		s.snap.LastError[source] = domain.KindOf(result.Err)
	} else {
		s.applyLocked(source, result)
		delete(s.snap.LastError, source)
	}
	s.commitLocked()
	return nil
}

// applyLocked replaces the contribution of source. Caller holds mu.
func (s *Store) applyLocked(source domain.SourceID, result Result) {
	switch source {
	case domain.SourceNative:
		if result.Native == nil {
			s.snap.Native = nil
			return
		}
		native := *result.Native
		s.snap.Native = &native
	case domain.SourceDelegations:
		delegations := make([]domain.DelegationBalance, len(result.Delegations))
		copy(delegations, result.Delegations)
		s.snap.Delegations = delegations
	default:
		contract, _ := source.TokenContract()
		if result.Token == nil {
			delete(s.snap.Tokens, contract)
			return
		}
		token := *result.Token
		token.ContractAddress = contract
		s.snap.Tokens[contract] = token
	}
}

// commitLocked queues a copy of the new state for subscribers and releases
// mu. Caller holds mu. If no other goroutine is delivering, the caller drains
// the queue before returning; otherwise it returns at once and the active
// drainer delivers its notification in order. mu is not held while
// subscribers run.
func (s *Store) commitLocked() {
	subs := make([]Subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.pending = append(s.pending, notification{snap: s.snap.Clone(), subs: subs})
	if s.draining {
		s.mu.Unlock()
		return
	}

	s.draining = true
	for len(s.pending) > 0 {
		n := s.pending[0]
		s.pending[0] = notification{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		for _, fn := range n.subs {
			s.notify(fn, n.snap)
		}

		s.mu.Lock()
	}
	s.pending = nil
	s.draining = false
	s.mu.Unlock()
}

// notify calls one subscriber, isolating panics from the store and other subscribers.
func (s *Store) notify(fn Subscriber, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("subscriber panic recovered: %v\n%s", r, debug.Stack())
		}
	}()
	fn(snap.Clone())
}
