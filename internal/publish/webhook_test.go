package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceymoss/go-discovery/internal/candidate"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
)

func testCandidate() *objects.PostCandidate {
	return &objects.PostCandidate{
		ID:        7,
		ContentID: 3,
		Platform:  "x",
		Lang:      "en",
		Tone:      "Professional",
		BodyText:  "hello",
		Content:   &objects.DiscoveredContent{CanonicalURL: "https://go.dev/blog/a"},
	}
}

func TestWebhookPublisherSuccess(t *testing.T) {
	var got publishRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "candidate-7", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"post-42"}`))
	}))
	defer srv.Close()

	id, err := NewWebhookPublisher(srv.URL, time.Second).Publish(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, "post-42", id)
	assert.Equal(t, "https://go.dev/blog/a", got.Link)
	assert.Equal(t, "hello", got.Body)
}

func TestWebhookPublisherClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, "slow down", true},
		{"server error", http.StatusBadGateway, "", true},
		{"bad request", http.StatusBadRequest, "too long", false},
		{"no id", http.StatusOK, `{}`, false},
		{"garbage", http.StatusOK, `not json`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewWebhookPublisher(srv.URL, time.Second).Publish(context.Background(), testCandidate())
			require.Error(t, err)
			assert.Equal(t, tc.transient, errs.IsTransient(err))
			assert.Equal(t, !tc.transient, errs.IsPermanent(err))
		})
	}
}

func TestWebhookPublisherNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewWebhookPublisher(url, time.Second).Publish(context.Background(), testCandidate())
	assert.True(t, errs.IsTransient(err))

	_, err = NewWebhookPublisher("", time.Second).Publish(context.Background(), testCandidate())
	assert.True(t, errs.IsPermanent(err))
}

func TestWebhookNotifier(t *testing.T) {
	var mu sync.Mutex
	var events []candidate.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e candidate.Event
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		if e.To == objects.CandidateFailed {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	n.Notify(context.Background(), candidate.Event{CandidateID: 1, From: "SCHEDULED", To: objects.CandidatePublished, ExternalPostID: "p1"})
	// 下游失败不会 panic 也不返回错误
	n.Notify(context.Background(), candidate.Event{CandidateID: 2, From: "SCHEDULED", To: objects.CandidateFailed})
	NewWebhookNotifier("", time.Second).Notify(context.Background(), candidate.Event{CandidateID: 3})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, "p1", events[0].ExternalPostID)
}
