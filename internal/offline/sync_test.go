package offline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/scawful/halext-org-sub003/internal/api"
	"github.com/scawful/halext-org-sub003/internal/config"
)

func newTestClient(t *testing.T, baseURL string) *api.Client {
	t.Helper()

	client, err := api.New(config.APIConfig{
		BaseURL:        baseURL,
		Timeout:        5 * time.Second,
		MaxRetries:     0,
		RetryBaseDelay: time.Millisecond,
	}, api.StaticToken("tok"), zerolog.Nop())
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	return client
}

func TestFlushClassifiesOutcomes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{}`))
		case "/reject":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"detail":"already exists"}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(ts.Close)

	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Enqueue(ctx, http.MethodPost, "/ok", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Enqueue(ctx, http.MethodPost, "/reject", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Enqueue(ctx, http.MethodPost, "/down", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	syncer := NewSyncer(store, newTestClient(t, ts.URL), zerolog.Nop())
	res, err := syncer.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if res.Replayed != 1 || res.Dropped != 1 || res.Kept != 1 {
		t.Fatalf("expected 1/1/1, got %+v", res)
	}

	pending, err := store.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Path != "/down" {
		t.Fatalf("expected only the transient failure kept, got %+v", pending)
	}
	if pending[0].AttemptCount != 1 || pending[0].LastError == "" {
		t.Fatalf("expected failure recorded on the kept mutation, got %+v", pending[0])
	}
}

func TestFlushStopsOnSessionExpiry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"token expired"}`))
	}))
	t.Cleanup(ts.Close)

	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := store.Enqueue(ctx, http.MethodPost, "/ok", nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	syncer := NewSyncer(store, newTestClient(t, ts.URL), zerolog.Nop())
	res, err := syncer.Flush(ctx)

	var authErr *api.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %T: %v", err, err)
	}
	if res.Replayed != 0 {
		t.Fatalf("expected nothing replayed, got %+v", res)
	}

	pending, perr := store.Pending(ctx)
	if perr != nil {
		t.Fatalf("Pending: %v", perr)
	}
	if len(pending) != 2 {
		t.Fatalf("expected both mutations kept after auth failure, got %d", len(pending))
	}
}

func TestFlushEmptyQueue(t *testing.T) {
	store := newTestStore(t)

	syncer := NewSyncer(store, newTestClient(t, "http://127.0.0.1:1"), zerolog.Nop())
	res, err := syncer.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if res.Replayed != 0 || res.Dropped != 0 || res.Kept != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}
