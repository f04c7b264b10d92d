package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/shared"
	tu "github.com/desertthunder/boardx/internal/testing"
)

var testCredentials = models.Credentials{APIKey: "k1", Token: "t1"}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Initial: time.Millisecond, Max: 4 * time.Millisecond, Multiplier: 2}
}

func newTestService(t *testing.T, baseURL string) *TrelloService {
	t.Helper()
	svc, err := NewTrelloService(TrelloOptions{
		BaseURL:     baseURL,
		Credentials: testCredentials,
		Retry:       fastRetry(),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc
}

// recordSleeps replaces the rate-limit wait with one that records and returns immediately.
func recordSleeps(svc *TrelloService) *[]time.Duration {
	var mu sync.Mutex
	var waits []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		waits = append(waits, d)
		return nil
	}
	return &waits
}

func TestTrelloService(t *testing.T) {
	ctx := context.Background()

	t.Run("NewTrelloService", func(t *testing.T) {
		t.Run("Missing Credentials", func(t *testing.T) {
			_, err := NewTrelloService(TrelloOptions{Credentials: models.Credentials{APIKey: "only-key"}})
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
		})

		t.Run("Defaults", func(t *testing.T) {
			svc, err := NewTrelloService(TrelloOptions{Credentials: testCredentials})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if svc.baseURL != DefaultBaseURL {
				t.Errorf("expected default base URL, got %s", svc.baseURL)
			}
			if svc.timeout != DefaultTimeout {
				t.Errorf("expected default timeout, got %v", svc.timeout)
			}
			if svc.retry != DefaultRetryPolicy() {
				t.Errorf("expected default retry policy, got %+v", svc.retry)
			}
			if svc.Name() != "Trello" {
				t.Errorf("expected name Trello, got %s", svc.Name())
			}
		})
	})

	t.Run("Board Uses Query Credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/boards/b1" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.URL.Query().Get("key") != "k1" || r.URL.Query().Get("token") != "t1" {
				t.Errorf("expected key and token query params, got %s", r.URL.RawQuery)
			}
			fmt.Fprint(w, `{"id":"b1","name":"Roadmap","desc":"Q3"}`)
		}))
		defer server.Close()

		board, err := newTestService(t, server.URL).Board(ctx, "b1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if board.Name != "Roadmap" || board.Desc != "Q3" {
			t.Errorf("unexpected board %+v", board)
		}
	})

	t.Run("Bearer Token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
				t.Errorf("expected bearer header, got %q", got)
			}
			if r.URL.Query().Has("key") {
				t.Error("key should not be sent with a bearer token")
			}
			fmt.Fprint(w, `[]`)
		}))
		defer server.Close()

		svc, err := NewTrelloService(TrelloOptions{
			BaseURL:     server.URL,
			Credentials: models.Credentials{AccessToken: "at-1"},
			Retry:       fastRetry(),
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, err := svc.Members(ctx, "b1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("Body Read Failure Is Retried", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: &tu.FCloser{}}
		svc, err := NewTrelloService(TrelloOptions{
			BaseURL:     "http://trello.test",
			Credentials: testCredentials,
			HTTPClient:  &http.Client{Transport: tu.NewMockRoundTripper(resp, nil)},
			Retry:       fastRetry(),
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		_, err = svc.Lists(ctx, "b1")
		if !errors.Is(err, shared.ErrRetriesExhausted) {
			t.Errorf("expected ErrRetriesExhausted, got %v", err)
		}
		if !strings.Contains(err.Error(), "after 3 attempts") {
			t.Errorf("expected attempt count in error, got %v", err)
		}
	})

	t.Run("Transport Error Is Retried", func(t *testing.T) {
		svc, err := NewTrelloService(TrelloOptions{
			BaseURL:     "http://trello.test",
			Credentials: testCredentials,
			HTTPClient:  &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection reset"))},
			Retry:       fastRetry(),
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		_, err = svc.Board(ctx, "b1")
		if !errors.Is(err, shared.ErrRetriesExhausted) || !strings.Contains(err.Error(), "connection reset") {
			t.Errorf("expected exhausted retries wrapping the transport error, got %v", err)
		}
	})

	t.Run("Retries Server Errors", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, `[{"id":"l1","name":"To Do","pos":1}]`)
		}))
		defer server.Close()

		lists, err := newTestService(t, server.URL).Lists(ctx, "b1")
		if err != nil {
			t.Fatalf("expected success on third attempt, got %v", err)
		}
		if len(lists) != 1 || hits.Load() != 3 {
			t.Errorf("expected 1 list after 3 hits, got %d lists and %d hits", len(lists), hits.Load())
		}
	})

	t.Run("Exhausts Retries", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := newTestService(t, server.URL).Labels(ctx, "b1")
		if !errors.Is(err, shared.ErrRetriesExhausted) {
			t.Errorf("expected ErrRetriesExhausted, got %v", err)
		}
		if hits.Load() != 3 {
			t.Errorf("expected 3 attempts, got %d", hits.Load())
		}
	})

	t.Run("Rate Limit Does Not Consume Attempts", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch hits.Add(1) {
			case 1, 2:
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(http.StatusTooManyRequests)
			case 3, 4:
				w.WriteHeader(http.StatusServiceUnavailable)
			default:
				fmt.Fprint(w, `[]`)
			}
		}))
		defer server.Close()

		svc := newTestService(t, server.URL)
		waits := recordSleeps(svc)

		if _, err := svc.CardAttachments(ctx, "c1"); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if hits.Load() != 5 {
			t.Errorf("expected 5 requests, got %d", hits.Load())
		}
		if len(*waits) != 2 {
			t.Fatalf("expected 2 rate-limit waits, got %d", len(*waits))
		}
		for _, w := range *waits {
			if w < 2*time.Second {
				t.Errorf("expected wait of at least 2s, got %v", w)
			}
		}
	})

	t.Run("Rate Limit Default Wait", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			fmt.Fprint(w, `[]`)
		}))
		defer server.Close()

		svc := newTestService(t, server.URL)
		waits := recordSleeps(svc)
		if _, err := svc.CardChecklists(ctx, "c1"); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if len(*waits) != 1 || (*waits)[0] != DefaultRetryAfter {
			t.Errorf("expected one default wait, got %v", *waits)
		}
	})

	t.Run("Not Found Is Terminal", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		_, err := newTestService(t, server.URL).Board(ctx, "missing")
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if strings.Contains(err.Error(), "t1") {
			t.Errorf("error should not leak the token: %v", err)
		}
		if hits.Load() != 1 {
			t.Errorf("expected a single attempt, got %d", hits.Load())
		}
	})

	t.Run("Client Error Is Terminal", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			http.Error(w, "invalid token", http.StatusUnauthorized)
		}))
		defer server.Close()

		_, err := newTestService(t, server.URL).Cards(ctx, "b1")
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected ErrAPIRequest, got %v", err)
		}
		if hits.Load() != 1 {
			t.Errorf("expected a single attempt, got %d", hits.Load())
		}
	})

	t.Run("Comment Pagination", func(t *testing.T) {
		var befores []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("filter") != "commentCard" || q.Get("limit") != "1000" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			befores = append(befores, q.Get("before"))

			n := PageSize
			prefix := "a"
			if q.Get("before") != "" {
				n = 3
				prefix = "b"
			}
			page := make([]models.SourceAction, n)
			for i := range page {
				page[i].ID = fmt.Sprintf("%s%04d", prefix, i)
				page[i].Type = "commentCard"
			}
			_ = json.NewEncoder(w).Encode(page)
		}))
		defer server.Close()

		actions, err := newTestService(t, server.URL).CommentActions(ctx, "b1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(actions) != PageSize+3 {
			t.Errorf("expected %d actions, got %d", PageSize+3, len(actions))
		}
		if len(befores) != 2 || befores[0] != "" || befores[1] != "a0999" {
			t.Errorf("unexpected cursors %v", befores)
		}
	})

	t.Run("Download", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := `OAuth oauth_consumer_key="k1", oauth_token="t1"`
			if got := r.Header.Get("Authorization"); got != want {
				t.Errorf("expected %q, got %q", want, got)
			}
			if r.URL.Query().Has("token") {
				t.Error("download should not carry the token in the query")
			}
			w.Header().Set("Content-Type", "image/png")
			fmt.Fprint(w, "0123456789")
		}))
		defer server.Close()

		svc := newTestService(t, server.URL)

		file, err := svc.Download(ctx, server.URL+"/download/a.png", 10)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if string(file.Data) != "0123456789" || file.ContentType != "image/png" {
			t.Errorf("unexpected file %q %s", file.Data, file.ContentType)
		}

		_, err = svc.Download(ctx, server.URL+"/download/a.png", 9)
		if !errors.Is(err, shared.ErrFileTooLarge) {
			t.Errorf("expected ErrFileTooLarge, got %v", err)
		}
	})

	t.Run("Unlimited Download Ignores Response Cap", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/download/") {
				fmt.Fprint(w, "0123456789")
				return
			}
			fmt.Fprint(w, `{"id":"b1","name":"Roadmap with a long name"}`)
		}))
		defer server.Close()

		svc := newTestService(t, server.URL)
		svc.maxResponse = 8

		file, err := svc.Download(ctx, server.URL+"/download/big.bin", 0)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(file.Data) != 10 {
			t.Errorf("expected the whole body, got %d bytes", len(file.Data))
		}

		_, err = svc.Board(ctx, "b1")
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected API responses to stay capped, got %v", err)
		}
	})

	t.Run("Run Cache", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			fmt.Fprint(w, `[{"id":"c1","name":"Card","idList":"l1","pos":1}]`)
		}))
		defer server.Close()

		cache, err := NewRunCache(64)
		if err != nil {
			t.Fatalf("failed to create cache: %v", err)
		}
		defer cache.Close()

		svc, err := NewTrelloService(TrelloOptions{BaseURL: server.URL, Credentials: testCredentials, Retry: fastRetry(), Cache: cache})
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}

		first, err := svc.Cards(ctx, "b1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		first[0].Name = "mutated"

		second, err := svc.Cards(ctx, "b1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if hits.Load() != 1 {
			t.Errorf("expected cached second call, got %d hits", hits.Load())
		}
		if second[0].Name != "Card" {
			t.Error("callers should receive independent copies")
		}

		cache.Invalidate(CacheCards, "b1")
		if _, err := svc.Cards(ctx, "b1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if hits.Load() != 2 {
			t.Errorf("expected refetch after invalidation, got %d hits", hits.Load())
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tc := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "empty", value: "", want: DefaultRetryAfter},
		{name: "seconds", value: "2", want: 2 * time.Second},
		{name: "negative", value: "-5", want: 0},
		{name: "http date", value: now.Add(30 * time.Second).Format(http.TimeFormat), want: 30 * time.Second},
		{name: "past date", value: now.Add(-time.Minute).Format(http.TimeFormat), want: 0},
		{name: "garbage", value: "soon", want: DefaultRetryAfter},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
