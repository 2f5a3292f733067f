// Package api exposes the wallet session, token registry and snapshot over HTTP.
// Snapshot changes are pushed to websocket clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/observability"
	"wallet-sync/internal/snapshot"
	"wallet-sync/internal/storage"
	"wallet-sync/internal/wallet"
)

// DefaultNativeDecimals is the exponent of the native denom (aevmos, wei).
const DefaultNativeDecimals = 18

const (
	maxBodyBytes       = 1 << 16
	healthCheckTimeout = 2 * time.Second
)

// Wallet is the session API used by the server.
type Wallet interface {
	Connect(ctx context.Context, addrs domain.WalletAddresses) (domain.WalletSession, error)
	Disconnect(ctx context.Context) domain.WalletSession
	Session() domain.WalletSession
}

// Refresher is the refresh and token registration API used by the server.
type Refresher interface {
	Refresh(ctx context.Context) error
	RegisterToken(ctx context.Context, contract string) error
	UnregisterToken(ctx context.Context, contract string) error
}

// CheckFunc reports the health of one dependency.
type CheckFunc func(ctx context.Context) error

// Server serves the HTTP API.
type Server struct {
	store     *snapshot.Store
	wallet    Wallet
	refresher Refresher
	registry  storage.TokenRegistry
	history   storage.BalanceHistoryStore
	checks    map[string]CheckFunc

	// baseCtx bounds work that outlives a request, such as dispatched fetches.
	baseCtx        context.Context
	nativeDecimals int
	metrics        *observability.Metrics
	logger         *log.Logger
}

// Options for creating Server.
type Options struct {
	// Required
	Store     *snapshot.Store
	Wallet    Wallet
	Refresher Refresher

	// Optional; the corresponding endpoints answer 404 when nil.
	Registry storage.TokenRegistry
	History  storage.BalanceHistoryStore

	Checks         map[string]CheckFunc
	BaseContext    context.Context // default: context.Background()
	NativeDecimals int             // default: DefaultNativeDecimals
	Metrics        *observability.Metrics
	Logger         *log.Logger
}

// NewServer creates a new Server.
func NewServer(opts Options) *Server {
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	nativeDecimals := opts.NativeDecimals
	if nativeDecimals <= 0 {
		nativeDecimals = DefaultNativeDecimals
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Server{
		store:          opts.Store,
		wallet:         opts.Wallet,
		refresher:      opts.Refresher,
		registry:       opts.Registry,
		history:        opts.History,
		checks:         opts.Checks,
		baseCtx:        baseCtx,
		nativeDecimals: nativeDecimals,
		metrics:        metrics,
		logger:         logger,
	}
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /connect", s.handleConnect)
	mux.HandleFunc("POST /disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /refresh", s.handleRefresh)

	mux.HandleFunc("GET /tokens", s.handleListTokens)
	mux.HandleFunc("POST /tokens", s.handleRegisterToken)
	mux.HandleFunc("DELETE /tokens/{contract}", s.handleUnregisterToken)

	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())

	return s.recoverMiddleware(mux)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Starting HTTP server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// recoverMiddleware turns handler panics into 500 responses.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Printf("Panic in %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type connectRequest struct {
	EthAddress    string `json:"eth_address"`
	CosmosAddress string `json:"cosmos_address"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.wallet.Connect(s.baseCtx, domain.WalletAddresses{
		EthAddress:    req.EthAddress,
		CosmosAddress: req.CosmosAddress,
	})
	if errors.Is(err, wallet.ErrNoAddress) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.wallet.Disconnect(s.baseCtx))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	session := s.wallet.Session()
	if !session.Connected {
		writeError(w, http.StatusConflict, "wallet not connected")
		return
	}
	if err := s.refresher.Refresh(s.baseCtx); err != nil {
		s.logger.Printf("Refresh failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, session)
}

// TokenResponse is one registry entry.
type TokenResponse struct {
	ContractAddress string `json:"contract_address"`
	Symbol          string `json:"symbol,omitempty"`
	Name            string `json:"name,omitempty"`
	Decimals        int    `json:"decimals"`
	RegisteredAt    int64  `json:"registered_at"`
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, http.StatusNotFound, "token registry not configured")
		return
	}
	tokens, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]TokenResponse, 0, len(tokens))
	for _, t := range tokens {
		resp = append(resp, TokenResponse{
			ContractAddress: t.ContractAddress,
			Symbol:          t.Symbol,
			Name:            t.Name,
			Decimals:        t.Decimals,
			RegisteredAt:    t.RegisteredAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type registerTokenRequest struct {
	ContractAddress string `json:"contract_address"`
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	var req registerTokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := s.refresher.RegisterToken(s.baseCtx, req.ContractAddress)
	if errors.Is(err, storage.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, registerTokenRequest{
		ContractAddress: domain.NormalizeContract(req.ContractAddress),
	})
}

func (s *Server) handleUnregisterToken(w http.ResponseWriter, r *http.Request) {
	err := s.refresher.UnregisterToken(r.Context(), r.PathValue("contract"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "token not registered")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSnapshotView(s.store.GetSnapshot(), s.nativeDecimals))
}

// HistoryRecord is one balance history entry.
type HistoryRecord struct {
	Source     string `json:"source"`
	Denom      string `json:"denom"`
	Amount     string `json:"amount"`
	Generation uint64 `json:"generation"`
	ObservedAt int64  `json:"observed_at"`
}

// handleHistory serves GET /history?address=...&source=...&start=...&end=...
// With source set, start and end are ignored.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "balance history not configured")
		return
	}

	q := r.URL.Query()
	address := q.Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	var (
		records []*domain.BalanceRecord
		err     error
	)
	if source := q.Get("source"); source != "" {
		id := domain.SourceID(source)
		if !id.IsValid() {
			writeError(w, http.StatusBadRequest, "invalid source")
			return
		}
		records, err = s.history.GetBySource(r.Context(), address, id)
	} else {
		start, startErr := parseMillis(q.Get("start"), 0)
		end, endErr := parseMillis(q.Get("end"), time.Now().UnixMilli())
		if startErr != nil || endErr != nil {
			writeError(w, http.StatusBadRequest, "start and end must be unix milliseconds")
			return
		}
		records, err = s.history.GetByAddress(r.Context(), address, start, end)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]HistoryRecord, 0, len(records))
	for _, rec := range records {
		resp = append(resp, HistoryRecord{
			Source:     rec.Source.String(),
			Denom:      rec.Denom,
			Amount:     rec.Amount,
			Generation: rec.Generation,
			ObservedAt: rec.ObservedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthResponse is the JSON response for /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

func parseMillis(raw string, def int64) (int64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
