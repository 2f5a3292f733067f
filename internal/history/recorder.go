// Package history records observed balance changes into a BalanceHistoryStore.
// The Recorder subscribes to the snapshot store; writes are batched off the
// notification path.
package history

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/observability"
	"wallet-sync/internal/snapshot"
	"wallet-sync/internal/sources"
	"wallet-sync/internal/storage"
)

// Default configuration values.
const (
	DefaultBufferSize    = 1024
	DefaultBatchSize     = 100
	DefaultFlushInterval = 5 * time.Second

	shutdownFlushTimeout = 5 * time.Second
)

// Recorder turns snapshot notifications into balance history records.
// A record is written when a balance value differs from the last value
// recorded for it in the same generation.
type Recorder struct {
	history       storage.BalanceHistoryStore
	nativeAddress sources.AddressKind
	records       chan *domain.BalanceRecord
	batchSize     int
	flushInterval time.Duration
	metrics       *observability.Metrics
	logger        *log.Logger
	now           func() time.Time

	mu         sync.Mutex
	generation uint64
	last       map[string]string // source/denom -> amount
}

// Options for creating Recorder.
type Options struct {
	History storage.BalanceHistoryStore // required

	// NativeAddress is the session address native balances belong to.
	// Default: AddressCosmos.
	NativeAddress sources.AddressKind

	BufferSize    int           // default: DefaultBufferSize
	BatchSize     int           // default: DefaultBatchSize
	FlushInterval time.Duration // default: DefaultFlushInterval

	Metrics *observability.Metrics
	Logger  *log.Logger
	Now     func() time.Time
}

// NewRecorder creates a new Recorder.
func NewRecorder(opts Options) *Recorder {
	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	flushInterval := opts.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	nativeAddress := opts.NativeAddress
	if !nativeAddress.IsValid() {
		nativeAddress = sources.AddressCosmos
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Recorder{
		history:       opts.History,
		nativeAddress: nativeAddress,
		records:       make(chan *domain.BalanceRecord, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		metrics:       metrics,
		logger:        logger,
		now:           now,
		last:          make(map[string]string),
	}
}

// Attach subscribes the recorder to store and returns the unsubscribe function.
func (r *Recorder) Attach(store *snapshot.Store) (detach func()) {
	return store.Subscribe(r.Observe)
}

// Observe is the snapshot subscriber. It never blocks: records that do not
// fit in the buffer are dropped and logged.
func (r *Recorder) Observe(snap snapshot.Snapshot) {
	for _, rec := range r.diff(snap) {
		select {
		case r.records <- rec:
		default:
			r.logger.Printf("History buffer full, dropping %s record for %s", rec.Source, rec.Address)
		}
	}
}

// diff returns records for values that changed since the last notification.
func (r *Recorder) diff(snap snapshot.Snapshot) []*domain.BalanceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := snap.Session
	if session.Generation != r.generation {
		r.generation = session.Generation
		r.last = make(map[string]string)
	}
	if !session.Connected {
		return nil
	}

	observedAt := r.now().UnixMilli()
	addrs := session.Addresses()
	var out []*domain.BalanceRecord

	add := func(address string, source domain.SourceID, denom, amount string) {
		if address == "" {
			return
		}
		key := source.String() + "/" + denom
		if prev, ok := r.last[key]; ok && prev == amount {
			return
		}
		r.last[key] = amount
		out = append(out, &domain.BalanceRecord{
			Address:    address,
			Source:     source,
			Denom:      denom,
			Amount:     amount,
			Generation: session.Generation,
			ObservedAt: observedAt,
		})
	}

	if snap.Native != nil {
		add(r.nativeAddress.Pick(addrs), domain.SourceNative, snap.Native.Denom, snap.Native.Amount)
	}
	for _, d := range snap.Delegations {
		add(addrs.CosmosAddress, domain.SourceDelegations, d.ValidatorAddress, d.Amount)
	}
	for _, t := range snap.TokenList() {
		add(addrs.EthAddress, domain.TokenSource(t.ContractAddress), t.Symbol, t.Amount)
	}
	return out
}

// Run writes buffered records in batches until ctx is cancelled,
// then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	r.logger.Println("Starting history recorder...")

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*domain.BalanceRecord, 0, r.batchSize)
	for {
		select {
		case rec := <-r.records:
			batch = append(batch, rec)
			if len(batch) >= r.batchSize {
				r.flush(ctx, batch)
				batch = make([]*domain.BalanceRecord, 0, r.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(ctx, batch)
				batch = make([]*domain.BalanceRecord, 0, r.batchSize)
			}
		case <-ctx.Done():
			batch = r.drain(batch)
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
				r.flush(flushCtx, batch)
				cancel()
			}
			r.logger.Println("History recorder stopped")
			return nil
		}
	}
}

func (r *Recorder) drain(batch []*domain.BalanceRecord) []*domain.BalanceRecord {
	for {
		select {
		case rec := <-r.records:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
}

// flush writes one batch. Failures are logged; the batch is not retried.
func (r *Recorder) flush(ctx context.Context, batch []*domain.BalanceRecord) {
	start := time.Now()
	err := r.history.InsertBulk(ctx, batch)
	observability.RecordDBQuery("history", "insert_bulk", time.Since(start).Seconds(), err)
	if err != nil {
		r.logger.Printf("Save %d history records failed: %v", len(batch), err)
		return
	}
	r.metrics.HistoryRecordsSaved.Add(float64(len(batch)))
}
