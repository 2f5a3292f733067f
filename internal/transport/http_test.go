package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-sync/internal/domain"
)

func getter(url string) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestClient_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	body, err := New("test").Do(context.Background(), "get", getter(server.URL))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestClient_Do_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"server error", http.StatusBadGateway, domain.ErrNetwork},
		{"rate limited", http.StatusTooManyRequests, domain.ErrNetwork},
		{"bad request", http.StatusBadRequest, domain.ErrChain},
		{"not found", http.StatusNotFound, domain.ErrChain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			_, err := New("test").Do(context.Background(), "get", getter(server.URL))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_Do_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := New("test").Do(context.Background(), "get", getter(url))
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Equal(t, domain.ErrorKindNetwork, domain.KindOf(err))
}

func TestClient_Do_RetriesNetworkFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New("test", WithMaxRetries(3), WithRetryDelay(time.Millisecond))
	_, err := client.Do(context.Background(), "get", getter(server.URL))
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_Do_NoRetryOnChainError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := New("test", WithMaxRetries(3), WithRetryDelay(time.Millisecond))
	_, err := client.Do(context.Background(), "get", getter(server.URL))
	assert.ErrorIs(t, err, domain.ErrChain)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_Do_DefaultSingleAttempt(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := New("test").Do(context.Background(), "get", getter(server.URL))
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Equal(t, int32(1), attempts.Load())
}
