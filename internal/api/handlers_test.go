package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edgequest/edgequest/internal/cache"
	"github.com/edgequest/edgequest/internal/circuitbreaker"
	"github.com/edgequest/edgequest/internal/dedup"
	"github.com/edgequest/edgequest/internal/engagement"
	"github.com/edgequest/edgequest/internal/resolver"
	"github.com/edgequest/edgequest/internal/twitter"
)

type fakeFetcher struct {
	err   error
	likes int64
}

func (f *fakeFetcher) FetchByID(ctx context.Context, id string) (*twitter.Tweet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &twitter.Tweet{
		ID:         id,
		Engagement: twitter.Engagement{Likes: f.likes},
		Source:     "fake",
	}, nil
}

func newTestHandler(t *testing.T, f resolver.Fetcher) (*Handler, *circuitbreaker.Registry) {
	t.Helper()
	l1 := cache.NewMemory(64)
	l2 := cache.NewMemory(256)
	tiered := cache.NewTiered(l1, l2, 30*time.Second)
	t.Cleanup(func() { tiered.Close() })

	reg := circuitbreaker.NewRegistry(
		circuitbreaker.NewCacheStateStore(cache.NewMemory(64)),
		circuitbreaker.Config{FailureThreshold: 3, RecoveryTimeout: time.Minute},
		nil,
	)
	res := resolver.New(reg, time.Second, resolver.Source{Name: "fake", Fetcher: f})
	svc := engagement.NewService(tiered, res, dedup.New(0), nil, engagement.Config{CacheTTL: time.Minute})

	return &Handler{Engagement: svc, Breakers: reg}, reg
}

func serve(h *Handler, method, target string, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGetTweetByID(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{likes: 9})

	rec := serve(h, http.MethodGet, "/v1/tweets/123456", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var tweet twitter.Tweet
	if err := json.Unmarshal(rec.Body.Bytes(), &tweet); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if tweet.ID != "123456" || tweet.Engagement.Likes != 9 {
		t.Fatalf("unexpected tweet: %+v", tweet)
	}
}

func TestGetEngagementByURL(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{likes: 3})

	rec := serve(h, http.MethodGet, "/v1/engagement?url=https://x.com/user/status/789", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetEngagementMissingURL(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{})

	rec := serve(h, http.MethodGet, "/v1/engagement", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetTweetInvalidID(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{})

	rec := serve(h, http.MethodGet, "/v1/tweets/not-an-id", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetTweetNotFound(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{err: twitter.ErrNotFound})

	rec := serve(h, http.MethodGet, "/v1/tweets/404404", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetTweetAllSourcesDown(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{err: twitter.ErrRateLimited})

	rec := serve(h, http.MethodGet, "/v1/tweets/555", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Error    string             `json:"error"`
		Attempts []resolver.Attempt `json:"attempts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error != "resolution_failed" {
		t.Fatalf("unexpected error code: %s", body.Error)
	}
	if len(body.Attempts) != 1 || body.Attempts[0].Outcome != resolver.OutcomeRateLimited {
		t.Fatalf("expected rate-limited attempt trail, got %+v", body.Attempts)
	}
}

func TestListBreakers(t *testing.T) {
	h, reg := newTestHandler(t, &fakeFetcher{})
	reg.Get("twitter-api") // materialize one breaker

	rec := serve(h, http.MethodGet, "/admin/breakers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Breakers []circuitbreaker.Status `json:"breakers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Breakers) != 1 || body.Breakers[0].Resource != "twitter-api" {
		t.Fatalf("unexpected breakers: %+v", body.Breakers)
	}
}

func TestOverrideBreaker(t *testing.T) {
	h, reg := newTestHandler(t, &fakeFetcher{})

	rec := serve(h, http.MethodPost, "/admin/breakers/twitter-api/override", `{"override":"open"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	b := reg.Get("twitter-api")
	if b.Allow(context.Background()) {
		t.Fatal("forced-open breaker must reject requests")
	}

	// Clearing the override restores normal operation.
	rec = serve(h, http.MethodPost, "/admin/breakers/twitter-api/override", `{"override":"none"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !b.Allow(context.Background()) {
		t.Fatal("breaker should allow after override cleared")
	}
}

func TestOverrideBreakerInvalidValue(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{})

	rec := serve(h, http.MethodPost, "/admin/breakers/twitter-api/override", `{"override":"sideways"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestResetBreaker(t *testing.T) {
	h, reg := newTestHandler(t, &fakeFetcher{})
	ctx := context.Background()

	b := reg.Get("fake")
	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx)
	}
	if b.Allow(ctx) {
		t.Fatal("breaker should be open before reset")
	}

	rec := serve(h, http.MethodPost, "/admin/breakers/fake/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !b.Allow(ctx) {
		t.Fatal("breaker should be closed after reset")
	}
}

func TestResetUnknownBreaker(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{})

	rec := serve(h, http.MethodPost, "/admin/breakers/nonexistent/reset", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCacheStats(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{})

	// One miss then one hit.
	serve(h, http.MethodGet, "/v1/tweets/42", "")
	serve(h, http.MethodGet, "/v1/tweets/42", "")

	rec := serve(h, http.MethodGet, "/admin/cache/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats cache.TieredStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.L1Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestScanWithoutSharedCache(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{})

	rec := serve(h, http.MethodPost, "/admin/cache/scan", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when no shared tier, got %d", rec.Code)
	}
}

func TestHealthProbes(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{})

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := serve(h, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestRefreshTweet(t *testing.T) {
	f := &fakeFetcher{likes: 1}
	h, _ := newTestHandler(t, f)

	serve(h, http.MethodGet, "/v1/tweets/77", "")
	f.likes = 100

	rec := serve(h, http.MethodPost, "/v1/tweets/77/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var tweet twitter.Tweet
	if err := json.Unmarshal(rec.Body.Bytes(), &tweet); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if tweet.Engagement.Likes != 100 {
		t.Fatalf("refresh should bypass the stale entry, got %+v", tweet.Engagement)
	}
}
