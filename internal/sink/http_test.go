package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHTTPConfig(url string) HTTPConfig {
	cfg := DefaultHTTPConfig(url)
	cfg.BaseBackoff = time.Millisecond
	cfg.Timeout = time.Second
	return cfg
}

func TestHTTPSinkDelivers(t *testing.T) {
	var (
		gotBody    string
		gotHeaders http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testHTTPConfig(srv.URL)
	cfg.AuthToken = "secret"

	require.NoError(t, NewHTTPSink("orders", cfg).Handle(context.Background(), testMessage()))

	assert.Equal(t, `{"orderId":42}`, gotBody)
	assert.Equal(t, "Bearer secret", gotHeaders.Get("Authorization"))
	assert.Equal(t, "m-1", gotHeaders.Get(HeaderMessageID))
	assert.Equal(t, "abc", gotHeaders.Get(HeaderAttributePrefix+"traceId"))
}

func TestHTTPSinkResponses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		wantCalls int32
	}{
		{name: "accepted", status: http.StatusAccepted, wantCalls: 1},
		{name: "ack true", status: http.StatusOK, body: `{"ack":true}`, wantCalls: 1},
		{name: "ack false", status: http.StatusOK, body: `{"ack":false}`, wantErr: ErrWebhookNotReady, wantCalls: 1},
		{name: "client error is not retried", status: http.StatusBadRequest, wantErr: ErrWebhookPermanent, wantCalls: 1},
		{name: "server error is retried", status: http.StatusBadGateway, wantErr: ErrWebhookTransient, wantCalls: 3},
		{name: "rate limit is retried", status: http.StatusTooManyRequests, wantErr: ErrWebhookTransient, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewHTTPSink("orders", testHTTPConfig(srv.URL)).Handle(context.Background(), testMessage())

			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestHTTPSinkRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewHTTPSink("orders", testHTTPConfig(srv.URL)).Handle(context.Background(), testMessage())

	assert.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPSinkCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testHTTPConfig(srv.URL)
	cfg.MaxRetries = 1
	cfg.CircuitBreakerMinRequests = 2
	cfg.CircuitBreakerTimeout = time.Minute
	s := NewHTTPSink("orders", cfg)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, s.Handle(context.Background(), testMessage()), ErrWebhookTransient)
	}
	before := calls.Load()

	err := s.Handle(context.Background(), testMessage())

	assert.ErrorIs(t, err, ErrWebhookTransient)
	assert.Equal(t, before, calls.Load(), "open breaker short-circuits the request")
}

func TestHTTPSinkPermanentFailuresKeepBreakerClosed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	cfg := testHTTPConfig(srv.URL)
	cfg.CircuitBreakerMinRequests = 2
	s := NewHTTPSink("orders", cfg)

	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, s.Handle(context.Background(), testMessage()), ErrWebhookPermanent)
	}
	assert.Equal(t, int32(4), calls.Load())
}
