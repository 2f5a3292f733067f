// Package refresh fans out balance fetches for the connected wallet and
// merges each result into the snapshot store as it arrives.
// Flow: session → MarkLoading per source → fetch (goroutine) → MergeSource
package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/observability"
	"wallet-sync/internal/snapshot"
	"wallet-sync/internal/sources"
	"wallet-sync/internal/storage"
)

// Orchestrator dispatches one fetch task per applicable source and merges
// results tagged with the generation captured at dispatch time.
// Sources are independent; a slow or failing source never delays another.
type Orchestrator struct {
	store       *snapshot.Store
	native      sources.NativeSource
	delegations sources.DelegationSource
	tokens      sources.TokenSource
	registry    storage.TokenRegistry

	nativeAddress sources.AddressKind
	sem           *semaphore.Weighted
	wg            sync.WaitGroup

	metaMu    sync.Mutex
	tokenMeta map[string]domain.TokenInfo // last metadata written to the registry

	metrics *observability.Metrics
	logger  *log.Logger
	now     func() time.Time
}

// Options for creating Orchestrator.
type Options struct {
	// Required
	Store            *snapshot.Store
	NativeSource     sources.NativeSource
	DelegationSource sources.DelegationSource
	TokenSource      sources.TokenSource
	Registry         storage.TokenRegistry

	// NativeAddress selects the session address passed to NativeSource.
	// Default: AddressCosmos.
	NativeAddress sources.AddressKind

	// MaxConcurrentFetches bounds in-flight fetches. Zero means unbounded.
	MaxConcurrentFetches int64

	Metrics *observability.Metrics // default: observability.DefaultMetrics
	Logger  *log.Logger
	Now     func() time.Time // for tests
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	nativeAddress := opts.NativeAddress
	if !nativeAddress.IsValid() {
		nativeAddress = sources.AddressCosmos
	}

	o := &Orchestrator{
		store:         opts.Store,
		native:        opts.NativeSource,
		delegations:   opts.DelegationSource,
		tokens:        opts.TokenSource,
		registry:      opts.Registry,
		nativeAddress: nativeAddress,
		tokenMeta:     make(map[string]domain.TokenInfo),
		metrics:       metrics,
		logger:        logger,
		now:           now,
	}
	if opts.MaxConcurrentFetches > 0 {
		o.sem = semaphore.NewWeighted(opts.MaxConcurrentFetches)
	}
	return o
}

// RefreshAll dispatches a fetch for every source applicable to session.
// Native and delegations need the cosmos address (native may be configured
// to use the eth address); tokens need the eth address.
//
// ctx bounds the fetches themselves, so it should live as long as the
// process, not a single request. RefreshAll does not wait for results.
// An error is returned only if the token registry cannot be read; the
// other sources are dispatched regardless.
func (o *Orchestrator) RefreshAll(ctx context.Context, session domain.WalletSession) error {
	if !session.Connected {
		return nil
	}
	gen := session.Generation
	addrs := session.Addresses()

	if addr := o.nativeAddress.Pick(addrs); addr != "" && o.native != nil {
		o.dispatch(ctx, domain.SourceNative, gen, func(ctx context.Context) snapshot.Result {
			native, err := o.native.FetchNative(ctx, addr)
			return snapshot.Result{Native: native, Err: err}
		})
	}

	if addr := addrs.CosmosAddress; addr != "" && o.delegations != nil {
		o.dispatch(ctx, domain.SourceDelegations, gen, func(ctx context.Context) snapshot.Result {
			delegations, err := o.delegations.FetchDelegations(ctx, addr)
			return snapshot.Result{Delegations: delegations, Err: err}
		})
	}

	if addrs.EthAddress == "" || o.tokens == nil || o.registry == nil {
		return nil
	}

	tokens, err := o.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("list registered tokens: %w", err)
	}
	o.metrics.RegisteredTokens.Set(float64(len(tokens)))

	for _, t := range tokens {
		o.dispatchToken(ctx, session, t.ContractAddress)
	}
	return nil
}

// Refresh re-runs RefreshAll for the current session. No-op when disconnected.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	return o.RefreshAll(ctx, o.store.Session())
}

// RegisterToken adds contract to the registry and fetches its balance under
// the current generation. Registering a known contract refetches it without
// creating a second entry.
func (o *Orchestrator) RegisterToken(ctx context.Context, contract string) error {
	key := domain.NormalizeContract(contract)
	if key == "" {
		return fmt.Errorf("register token: %w", storage.ErrInvalidInput)
	}

	added, err := o.registry.Register(ctx, key, o.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("register token %s: %w", key, err)
	}
	if added {
		o.logger.Printf("Registered token %s", key)
	}

	session := o.store.Session()
	if session.Connected && session.EthAddress != "" && o.tokens != nil {
		o.dispatchToken(ctx, session, key)
	}
	return nil
}

// UnregisterToken removes contract from the registry and then its balance
// from the snapshot. In-flight fetches for it are dropped on arrival.
// If the registry fails the snapshot is left untouched.
// Returns storage.ErrNotFound if the contract was not registered.
func (o *Orchestrator) UnregisterToken(ctx context.Context, contract string) error {
	key := domain.NormalizeContract(contract)

	if err := o.registry.Remove(ctx, key); err != nil {
		return fmt.Errorf("unregister token %s: %w", key, err)
	}

	o.store.RemoveToken(key)
	o.metaMu.Lock()
	delete(o.tokenMeta, key)
	o.metaMu.Unlock()

	o.logger.Printf("Unregistered token %s", key)
	return nil
}

// Wait blocks until all dispatched fetches have been merged or discarded.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// dispatchToken dispatches one token fetch bound to the contract's current
// epoch. The store checks the epoch on both MarkTokenLoading and MergeToken,
// so an UnregisterToken at any point drops the fetch.
func (o *Orchestrator) dispatchToken(ctx context.Context, session domain.WalletSession, contract string) {
	owner := session.EthAddress
	gen := session.Generation
	epoch := o.store.TokenEpoch(contract)

	o.dispatchWith(ctx, domain.TokenSource(contract), gen, func() error {
		return o.store.MarkTokenLoading(contract, gen, epoch)
	}, func(ctx context.Context) snapshot.Result {
		token, err := o.tokens.FetchTokenBalance(ctx, owner, contract)
		return snapshot.Result{Token: token, Err: err}
	}, func(result snapshot.Result) error {
		return o.store.MergeToken(contract, gen, epoch, result)
	})
}

// dispatch marks source loading and runs fetch in its own goroutine.
func (o *Orchestrator) dispatch(ctx context.Context, source domain.SourceID, gen uint64, fetch func(context.Context) snapshot.Result) {
	o.dispatchWith(ctx, source, gen, func() error {
		return o.store.MarkLoading(source, gen)
	}, fetch, func(result snapshot.Result) error {
		return o.store.MergeSource(source, gen, result)
	})
}

func (o *Orchestrator) dispatchWith(
	ctx context.Context,
	source domain.SourceID,
	gen uint64,
	mark func() error,
	fetch func(context.Context) snapshot.Result,
	merge func(snapshot.Result) error,
) {
	switch err := mark(); {
	case errors.Is(err, snapshot.ErrAlreadyLoading):
		// The in-flight fetch belongs to this generation and will merge.
		o.logger.Printf("Fetch %s (generation %d) already in flight, skipped", source, gen)
		return
	case err != nil:
		// Session changed between capture and dispatch; nothing to fetch for.
		o.metrics.RecordStale(source)
		return
	}
	o.metrics.RecordDispatch(source)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		start := o.now()
		result := o.run(ctx, fetch)
		o.metrics.RecordCompletion(source, o.now().Sub(start).Seconds())

		err := merge(result)
		switch {
		case errors.Is(err, snapshot.ErrStaleGeneration):
			o.metrics.RecordStale(source)
			return
		case err != nil:
			o.logger.Printf("Merge %s failed: %v", source, err)
			return
		}

		if result.Err != nil {
			kind := domain.KindOf(result.Err)
			o.metrics.RecordMerge(source, kind, o.now().Unix())
			o.logger.Printf("Fetch %s (generation %d) failed: %s: %v", source, gen, kind, result.Err)
			return
		}
		o.metrics.RecordMerge(source, "", o.now().Unix())

		if result.Token != nil {
			o.saveTokenMetadata(ctx, source, result.Token)
		}
	}()
}

// run executes fetch within the concurrency limit. Panics in adapters are
// converted to network errors so the source leaves the loading set.
func (o *Orchestrator) run(ctx context.Context, fetch func(context.Context) snapshot.Result) (result snapshot.Result) {
	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return snapshot.Result{Err: fmt.Errorf("%w: %v", domain.ErrNetwork, err)}
		}
		defer o.sem.Release(1)
	}

	defer func() {
		if r := recover(); r != nil {
			result = snapshot.Result{Err: fmt.Errorf("%w: source panic: %v", domain.ErrNetwork, r)}
		}
	}()
	return fetch(ctx)
}

// saveTokenMetadata writes symbol, name and decimals to the registry when they changed.
func (o *Orchestrator) saveTokenMetadata(ctx context.Context, source domain.SourceID, token *domain.TokenBalance) {
	contract, _ := source.TokenContract()
	info := domain.TokenInfo{
		ContractAddress: contract,
		Symbol:          token.Symbol,
		Name:            token.Name,
		Decimals:        token.Decimals,
	}

	o.metaMu.Lock()
	if prev, ok := o.tokenMeta[contract]; ok && prev == info {
		o.metaMu.Unlock()
		return
	}
	o.tokenMeta[contract] = info
	o.metaMu.Unlock()

	if err := o.registry.UpdateMetadata(ctx, &info); err != nil && !errors.Is(err, storage.ErrNotFound) {
		o.logger.Printf("Save metadata for %s failed: %v", contract, err)
		o.metaMu.Lock()
		delete(o.tokenMeta, contract)
		o.metaMu.Unlock()
	}
}
