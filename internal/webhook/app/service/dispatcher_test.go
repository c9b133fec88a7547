package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeflow-hq/tradeflow/internal/webhook/domain/model"
)

type fakeRepo struct {
	mu         sync.Mutex
	hooks      []*model.Webhook
	deliveries []*model.Delivery
}

func (f *fakeRepo) FindActiveByUser(context.Context, string) ([]*model.Webhook, error) {
	return f.hooks, nil
}

func (f *fakeRepo) RecordDelivery(_ context.Context, d *model.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, d)
	return nil
}

func newTestDispatcher(repo *fakeRepo) *Dispatcher {
	d := NewDispatcher(Params{
		Repo:    repo,
		Version: "1.0.0",
	})
	d.backoff = func(context.Context, time.Duration) error { return nil }
	return d
}

func testHook(url, secret string, retries int) *model.Webhook {
	return &model.Webhook{
		ID:            "wh-1",
		UserID:        "user-1",
		Name:          "orders",
		URL:           url,
		Secret:        secret,
		Active:        true,
		RetryAttempts: retries,
	}
}

func TestDeliverSignsPayload(t *testing.T) {
	var (
		gotBody      []byte
		gotSignature string
		gotAgent     string
		gotType      string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotAgent = r.Header.Get("User-Agent")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := &fakeRepo{}
	d := newTestDispatcher(repo)

	err := d.Deliver(context.Background(), testHook(srv.URL, "k", 1), "run.completed",
		map[string]interface{}{"runId": "run-1"})
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("k"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, gotSignature)

	assert.Equal(t, "TradeFlow/1.0.0", gotAgent)
	assert.Equal(t, "application/json", gotType)
	assert.Contains(t, string(gotBody), `"event":"run.completed"`)
	assert.Contains(t, string(gotBody), `"webhook_id":"wh-1"`)

	require.Len(t, repo.deliveries, 1)
	assert.True(t, repo.deliveries[0].Success)
	assert.Equal(t, http.StatusOK, repo.deliveries[0].StatusCode)
}

func TestDeliverOmitsSignatureWithoutSecret(t *testing.T) {
	var gotSignature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := newTestDispatcher(&fakeRepo{})
	err := d.Deliver(context.Background(), testHook(srv.URL, "", 1), "run.completed", nil)
	require.NoError(t, err)
	assert.Empty(t, gotSignature)
}

func TestDeliverRetriesUntilSuccess(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := &fakeRepo{}
	d := newTestDispatcher(repo)

	err := d.Deliver(context.Background(), testHook(srv.URL, "k", 3), "run.completed", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	require.Len(t, repo.deliveries, 3, "each attempt is recorded")
	assert.False(t, repo.deliveries[0].Success)
	assert.Equal(t, http.StatusBadGateway, repo.deliveries[0].StatusCode)
	assert.Equal(t, 1, repo.deliveries[0].Attempts)
	assert.True(t, repo.deliveries[2].Success)
	assert.Equal(t, 3, repo.deliveries[2].Attempts)
}

func TestDeliverExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	repo := &fakeRepo{}
	d := newTestDispatcher(repo)

	err := d.Deliver(context.Background(), testHook(srv.URL, "k", 2), "run.completed", nil)
	require.Error(t, err)
	assert.Len(t, repo.deliveries, 2)
}

func TestTriggerFiltersBySubscription(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	subscribed := testHook(srv.URL, "", 1)
	subscribed.Events = []string{"run.completed"}
	other := testHook(srv.URL, "", 1)
	other.ID = "wh-2"
	other.Events = []string{"run.failed"}

	repo := &fakeRepo{hooks: []*model.Webhook{subscribed, other}}
	d := newTestDispatcher(repo)

	require.NoError(t, d.Trigger(context.Background(), "user-1", "run.completed", nil))
	assert.Equal(t, 1, calls, "only the subscribed webhook is hit")
}

func TestSubscribed(t *testing.T) {
	hook := &model.Webhook{}
	assert.True(t, hook.Subscribed("anything"), "empty list subscribes to all")

	hook.Events = []string{"run.completed", "*"}
	assert.True(t, hook.Subscribed("run.failed"), "wildcard matches")

	hook.Events = []string{"run.completed"}
	assert.False(t, hook.Subscribed("run.failed"))
}
