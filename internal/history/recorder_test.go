package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/observability"
	"wallet-sync/internal/snapshot"
	"wallet-sync/internal/sources"
	"wallet-sync/internal/storage/memory"
)

var testAddrs = domain.WalletAddresses{EthAddress: "0xaa", CosmosAddress: "cosmosaa"}

type fixture struct {
	store   *snapshot.Store
	history *memory.BalanceHistoryStore
	metrics *observability.Metrics
	rec     *Recorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   snapshot.NewStore(snapshot.Options{}),
		history: memory.NewBalanceHistoryStore(),
		metrics: observability.NewMetricsWithRegistry("test", prometheus.NewRegistry()),
	}
	f.rec = NewRecorder(Options{
		History: f.history,
		Metrics: f.metrics,
		Now:     func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
	t.Cleanup(f.rec.Attach(f.store))
	return f
}

// stop runs the recorder until it has drained everything observed so far.
func (f *fixture) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.rec.Run(ctx))
}

func (f *fixture) mergeNative(t *testing.T, gen uint64, amount string) {
	t.Helper()
	require.NoError(t, f.store.MergeSource(domain.SourceNative, gen, snapshot.Result{
		Native: &domain.NativeBalance{Denom: "aevmos", Amount: amount},
	}))
}

func TestRecorder_RecordsChangedBalances(t *testing.T) {
	f := setup(t)
	session := f.store.BeginSession(testAddrs)

	f.mergeNative(t, session.Generation, "1000")
	f.mergeNative(t, session.Generation, "1000") // unchanged
	f.mergeNative(t, session.Generation, "1500")
	f.stop(t)

	records, err := f.history.GetBySource(context.Background(), "cosmosaa", domain.SourceNative)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1000", records[0].Amount)
	assert.Equal(t, "1500", records[1].Amount)
	assert.Equal(t, "aevmos", records[0].Denom)
	assert.Equal(t, uint64(1), records[0].Generation)
	assert.Equal(t, int64(1_700_000_000_000), records[0].ObservedAt)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.HistoryRecordsSaved))
}

func TestRecorder_DelegationsAndTokens(t *testing.T) {
	f := setup(t)
	session := f.store.BeginSession(testAddrs)

	require.NoError(t, f.store.MergeSource(domain.SourceDelegations, session.Generation, snapshot.Result{
		Delegations: []domain.DelegationBalance{
			{ValidatorAddress: "valA", Amount: "10"},
			{ValidatorAddress: "valB", Amount: "20"},
		},
	}))
	token := domain.TokenSource("0xCC")
	require.NoError(t, f.store.MergeSource(token, session.Generation, snapshot.Result{
		Token: &domain.TokenBalance{Symbol: "TKN", Amount: "5", Decimals: 18},
	}))
	f.stop(t)

	delegations, err := f.history.GetBySource(context.Background(), "cosmosaa", domain.SourceDelegations)
	require.NoError(t, err)
	require.Len(t, delegations, 2)
	assert.ElementsMatch(t, []string{"valA", "valB"}, []string{delegations[0].Denom, delegations[1].Denom})

	tokens, err := f.history.GetBySource(context.Background(), "0xaa", token)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "TKN", tokens[0].Denom)
	assert.Equal(t, "5", tokens[0].Amount)
}

func TestRecorder_NewGenerationRecordsAgain(t *testing.T) {
	f := setup(t)
	first := f.store.BeginSession(testAddrs)
	f.mergeNative(t, first.Generation, "1000")

	second := f.store.BeginSession(testAddrs)
	f.mergeNative(t, second.Generation, "1000")
	f.stop(t)

	records, err := f.history.GetBySource(context.Background(), "cosmosaa", domain.SourceNative)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(1), records[0].Generation)
	assert.Equal(t, uint64(2), records[1].Generation)
}

func TestRecorder_FailureKeepsNoNewRecord(t *testing.T) {
	f := setup(t)
	session := f.store.BeginSession(testAddrs)
	f.mergeNative(t, session.Generation, "1000")
	require.NoError(t, f.store.MarkLoading(domain.SourceNative, session.Generation))
	require.NoError(t, f.store.MergeSource(domain.SourceNative, session.Generation, snapshot.Result{
		Err: domain.ErrNetwork,
	}))
	f.stop(t)

	records, err := f.history.GetBySource(context.Background(), "cosmosaa", domain.SourceNative)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecorder_DisconnectedRecordsNothing(t *testing.T) {
	f := setup(t)
	session := f.store.BeginSession(testAddrs)
	f.store.EndSession()

	// Late result is rejected by the store and never reaches the recorder.
	err := f.store.MergeSource(domain.SourceNative, session.Generation, snapshot.Result{
		Native: &domain.NativeBalance{Denom: "aevmos", Amount: "1000"},
	})
	require.ErrorIs(t, err, snapshot.ErrStaleGeneration)
	f.stop(t)

	records, err := f.history.GetByAddress(context.Background(), "cosmosaa", 0, 1<<62)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecorder_NativeOnEthAddress(t *testing.T) {
	history := memory.NewBalanceHistoryStore()
	rec := NewRecorder(Options{
		History:       history,
		NativeAddress: sources.AddressEth,
		Metrics:       observability.NewMetricsWithRegistry("test", prometheus.NewRegistry()),
	})
	store := snapshot.NewStore(snapshot.Options{})
	defer rec.Attach(store)()

	session := store.BeginSession(testAddrs)
	require.NoError(t, store.MergeSource(domain.SourceNative, session.Generation, snapshot.Result{
		Native: &domain.NativeBalance{Denom: "aevmos", Amount: "7"},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, rec.Run(ctx))

	records, err := history.GetBySource(context.Background(), "0xaa", domain.SourceNative)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

type failingHistory struct {
	*memory.BalanceHistoryStore
}

func (failingHistory) InsertBulk(context.Context, []*domain.BalanceRecord) error {
	return errors.New("connection refused")
}

func TestRecorder_InsertFailureIsNotFatal(t *testing.T) {
	metrics := observability.NewMetricsWithRegistry("test", prometheus.NewRegistry())
	rec := NewRecorder(Options{
		History: failingHistory{memory.NewBalanceHistoryStore()},
		Metrics: metrics,
	})
	store := snapshot.NewStore(snapshot.Options{})
	defer rec.Attach(store)()

	session := store.BeginSession(testAddrs)
	require.NoError(t, store.MergeSource(domain.SourceNative, session.Generation, snapshot.Result{
		Native: &domain.NativeBalance{Denom: "aevmos", Amount: "7"},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, rec.Run(ctx))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.HistoryRecordsSaved))
}

func TestRecorder_BatchesWhileRunning(t *testing.T) {
	history := memory.NewBalanceHistoryStore()
	rec := NewRecorder(Options{
		History:   history,
		BatchSize: 1,
		Metrics:   observability.NewMetricsWithRegistry("test", prometheus.NewRegistry()),
	})
	store := snapshot.NewStore(snapshot.Options{})
	defer rec.Attach(store)()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(ctx)
	}()

	session := store.BeginSession(testAddrs)
	require.NoError(t, store.MergeSource(domain.SourceNative, session.Generation, snapshot.Result{
		Native: &domain.NativeBalance{Denom: "aevmos", Amount: "7"},
	}))

	require.Eventually(t, func() bool {
		records, _ := history.GetBySource(context.Background(), "cosmosaa", domain.SourceNative)
		return len(records) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRecorder_FullBufferDrops(t *testing.T) {
	history := memory.NewBalanceHistoryStore()
	rec := NewRecorder(Options{
		History:    history,
		BufferSize: 1,
		Metrics:    observability.NewMetricsWithRegistry("test", prometheus.NewRegistry()),
	})
	store := snapshot.NewStore(snapshot.Options{})
	defer rec.Attach(store)()

	session := store.BeginSession(testAddrs)
	require.NoError(t, store.MergeSource(domain.SourceDelegations, session.Generation, snapshot.Result{
		Delegations: []domain.DelegationBalance{
			{ValidatorAddress: "valA", Amount: "10"},
			{ValidatorAddress: "valB", Amount: "20"},
			{ValidatorAddress: "valC", Amount: "30"},
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, rec.Run(ctx))

	records, err := history.GetBySource(context.Background(), "cosmosaa", domain.SourceDelegations)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
