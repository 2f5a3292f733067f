// Package wallet owns the connected wallet session: connect, disconnect and
// reconnect from persisted addresses. Every session change bumps the
// generation in the snapshot store and triggers a full refresh.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/observability"
	"wallet-sync/internal/snapshot"
	"wallet-sync/internal/storage"
)

// ErrNoAddress is returned when connecting without any address.
var ErrNoAddress = errors.New("wallet: at least one address is required")

// Refresher dispatches fetches for a session.
type Refresher interface {
	RefreshAll(ctx context.Context, session domain.WalletSession) error
}

// Manager is the root of invalidation: it is the only caller of the store's
// session operations. No Manager lock is held while the store notifies, so
// subscribers may call back into the Manager.
type Manager struct {
	persistMu sync.Mutex // serializes writes to addresses
	store     *snapshot.Store
	addresses storage.AddressStore
	refresher Refresher
	metrics   *observability.Metrics
	logger    *log.Logger
}

// Options for creating Manager.
type Options struct {
	Store     *snapshot.Store
	Addresses storage.AddressStore // optional; nil disables persistence
	Refresher Refresher
	Metrics   *observability.Metrics // default: observability.DefaultMetrics
	Logger    *log.Logger
}

// NewManager creates a new Manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	return &Manager{
		store:     opts.Store,
		addresses: opts.Addresses,
		refresher: opts.Refresher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Connect starts a new session for addrs. Balances of the previous session
// are cleared in the same step. The addresses are persisted and a full
// refresh is dispatched for the new generation.
//
// ctx bounds the dispatched fetches and should outlive the caller's request.
func (m *Manager) Connect(ctx context.Context, addrs domain.WalletAddresses) (domain.WalletSession, error) {
	addrs = addrs.Normalize()
	if addrs.IsEmpty() {
		return domain.WalletSession{}, ErrNoAddress
	}

	return m.connect(ctx, addrs, "connect"), nil
}

// Disconnect ends the session. All balances, loading and error state are
// cleared and results of fetches still in flight are discarded on arrival.
func (m *Manager) Disconnect(ctx context.Context) domain.WalletSession {
	session := m.store.EndSession()
	m.metrics.RecordSession("disconnect", session.Generation)
	m.logger.Printf("Disconnected (generation %d)", session.Generation)

	if err := m.persist(session, func() error { return m.addresses.Clear(ctx) }); err != nil {
		m.logger.Printf("Clear persisted addresses failed: %v", err)
	}
	return session
}

// ReconnectIfPossible connects with the persisted addresses, if any.
// Returns false when nothing is stored or the stored addresses are already connected.
func (m *Manager) ReconnectIfPossible(ctx context.Context) (bool, error) {
	if m.addresses == nil {
		return false, nil
	}

	stored, err := m.addresses.Load(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load persisted addresses: %w", err)
	}

	addrs := stored.Normalize()
	if addrs.IsEmpty() {
		return false, nil
	}
	current := m.store.Session()
	if current.Connected && current.Addresses() == addrs {
		return false, nil
	}

	m.connect(ctx, addrs, "reconnect")
	return true, nil
}

// Session returns the current session.
func (m *Manager) Session() domain.WalletSession {
	return m.store.Session()
}

func (m *Manager) connect(ctx context.Context, addrs domain.WalletAddresses, event string) domain.WalletSession {
	session := m.store.BeginSession(addrs)
	m.metrics.RecordSession(event, session.Generation)
	m.logger.Printf("Connected eth=%q cosmos=%q (generation %d)", addrs.EthAddress, addrs.CosmosAddress, session.Generation)

	// A persistence failure only affects the next reconnect, not this session.
	if err := m.persist(session, func() error { return m.addresses.Save(ctx, addrs) }); err != nil {
		m.logger.Printf("Persist addresses failed: %v", err)
	}

	if m.refresher != nil {
		if err := m.refresher.RefreshAll(ctx, session); err != nil {
			m.logger.Printf("Refresh after %s: %v", event, err)
		}
	}
	return session
}

// persist runs write if session is still the current one. A session change
// that lost the race to a newer one skips its write, so the stored addresses
// follow the latest session.
func (m *Manager) persist(session domain.WalletSession, write func() error) error {
	if m.addresses == nil {
		return nil
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if m.store.Session().Generation != session.Generation {
		return nil
	}
	return write()
}
