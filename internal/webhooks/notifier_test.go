package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestNotifySignsBody(t *testing.T) {
	var gotType string
	var verified bool
	var env Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotType = r.Header.Get("X-Event-Type")
		verified = VerifyHMAC("secret", body, r.Header.Get("X-Signature"))
		_ = json.Unmarshal(body, &env)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "secret", 3, nil)
	require.NoError(t, n.Notify(context.Background(), "run.finished", map[string]any{"runId": "r1"}))
	assert.Equal(t, "run.finished", gotType)
	assert.True(t, verified)
	assert.Equal(t, "run.finished", env.Type)
	assert.Contains(t, env.ID, "evt_")
}

func TestNotifyRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "", 3, nil)
	n.sleep = noSleep
	require.NoError(t, n.Notify(context.Background(), "run.finished", nil))
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(-10)
	err := n.Notify(context.Background(), "run.finished", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestNotifyStopsOnContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	n := NewNotifier(srv.URL, "", 5, nil)
	n.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepCtx(ctx, d)
	}
	assert.ErrorIs(t, n.Notify(ctx, "run.finished", nil), context.Canceled)
}

func TestBackoffAndSignature(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(-1))
	assert.Equal(t, 8*time.Second, nextBackoff(3))
	assert.Equal(t, 1024*time.Second, nextBackoff(50))
	sig := SignHMAC("k", []byte("body"))
	assert.True(t, VerifyHMAC("k", []byte("body"), sig))
	assert.False(t, VerifyHMAC("k", []byte("other"), sig))
	assert.False(t, VerifyHMAC("k", []byte("body"), "zz"))
}
