package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquiro/gateway/internal/collaborator"
	"github.com/acquiro/gateway/internal/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDispatcher_DeliverSucceedsOnFirstAttempt(t *testing.T) {
	var received string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	signer := collaborator.NewHMACWebhookSigner("secret")
	d := New(signer, time.Second, testPolicy())

	payload, err := BuildPayload("evt-1", "payment.authorized", map[string]string{"payment_id": "p1"})
	require.NoError(t, err)

	err = d.Deliver(context.Background(), &Delivery{ID: "wh-1", URL: server.URL, EventType: "payment.authorized", Payload: payload})

	require.NoError(t, err)
	assert.NotEmpty(t, received)
}

func TestDispatcher_RetriesOn500ThenSucceeds(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	signer := collaborator.NewHMACWebhookSigner("secret")
	d := New(signer, time.Second, testPolicy())

	payload, _ := BuildPayload("evt-1", "payment.authorized", nil)
	err := d.Deliver(context.Background(), &Delivery{ID: "wh-1", URL: server.URL, Payload: payload})

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestDispatcher_DoesNotRetry4xx(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	signer := collaborator.NewHMACWebhookSigner("secret")
	d := New(signer, time.Second, testPolicy())

	payload, _ := BuildPayload("evt-1", "payment.authorized", nil)
	err := d.Deliver(context.Background(), &Delivery{ID: "wh-1", URL: server.URL, Payload: payload})

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}
