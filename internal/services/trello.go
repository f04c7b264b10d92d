package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/shared"
)

const (
	DefaultBaseURL    = "https://api.trello.com/1"
	DefaultTimeout    = 60 * time.Second
	DefaultRetryAfter = 10 * time.Second
	PageSize          = 1000

	maxResponseSize = 50 * 1024 * 1024
)

// RetryPolicy bounds retries of transport errors and 5xx responses.
// Rate-limited responses are waited out and never count as attempts.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy is 3 attempts, 1s base, doubling, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// TrelloOptions configures a [TrelloService].
type TrelloOptions struct {
	BaseURL           string
	Credentials       models.Credentials
	HTTPClient        *http.Client
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	Retry             RetryPolicy
	Cache             *RunCache
	Logger            *log.Logger
}

// TrelloService implements [Source] for the Trello REST API.
//
// Requests are paced by a token bucket, retried with exponential backoff on transport
// errors and 5xx responses, and wait out 429 responses for as long as the server asks.
type TrelloService struct {
	baseURL     string
	credentials models.Credentials
	httpClient  *http.Client
	limiter     *rate.Limiter
	timeout     time.Duration
	retry       RetryPolicy
	cache       *RunCache
	logger      *log.Logger
	maxResponse int64
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

var _ Source = (*TrelloService)(nil)

// NewTrelloService creates a client for the given credentials.
func NewTrelloService(opts TrelloOptions) (*TrelloService, error) {
	if opts.Credentials.Empty() {
		return nil, shared.ErrMissingCredentials
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if opts.Credentials.AccessToken != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Credentials.AccessToken, TokenType: "Bearer"})
		client = &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: client.Transport},
			Jar:       client.Jar,
		}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &TrelloService{
		baseURL:     baseURL,
		credentials: opts.Credentials,
		httpClient:  client,
		limiter:     rate.NewLimiter(limit, burst),
		timeout:     timeout,
		retry:       retry,
		cache:       opts.Cache,
		logger:      logger,
		maxResponse: maxResponseSize,
		sleep:       sleepContext,
		now:         time.Now,
	}, nil
}

func (s *TrelloService) Name() string {
	return "Trello"
}

// Board retrieves a board by id.
func (s *TrelloService) Board(ctx context.Context, boardID string) (*models.SourceBoard, error) {
	var board models.SourceBoard
	params := url.Values{"fields": {"name,desc,closed,url"}}
	if err := s.fetch(ctx, "/boards/"+url.PathEscape(boardID), params, &board); err != nil {
		return nil, fmt.Errorf("failed to fetch board %s: %w", boardID, err)
	}
	return &board, nil
}

// Members retrieves the members of a board.
func (s *TrelloService) Members(ctx context.Context, boardID string) ([]models.SourceMember, error) {
	var members []models.SourceMember
	params := url.Values{"fields": {"username,fullName"}}
	if err := s.fetch(ctx, "/boards/"+url.PathEscape(boardID)+"/members", params, &members); err != nil {
		return nil, fmt.Errorf("failed to fetch members of board %s: %w", boardID, err)
	}
	return members, nil
}

// Lists retrieves the open lists of a board.
func (s *TrelloService) Lists(ctx context.Context, boardID string) ([]models.SourceList, error) {
	return cachedList(s.cache, CacheLists, boardID, func() ([]models.SourceList, error) {
		var lists []models.SourceList
		if err := s.fetch(ctx, "/boards/"+url.PathEscape(boardID)+"/lists", url.Values{"filter": {"open"}}, &lists); err != nil {
			return nil, fmt.Errorf("failed to fetch lists of board %s: %w", boardID, err)
		}
		return lists, nil
	})
}

// Labels retrieves the labels of a board.
func (s *TrelloService) Labels(ctx context.Context, boardID string) ([]models.SourceLabel, error) {
	return cachedList(s.cache, CacheLabels, boardID, func() ([]models.SourceLabel, error) {
		var labels []models.SourceLabel
		params := url.Values{"limit": {strconv.Itoa(PageSize)}}
		if err := s.fetch(ctx, "/boards/"+url.PathEscape(boardID)+"/labels", params, &labels); err != nil {
			return nil, fmt.Errorf("failed to fetch labels of board %s: %w", boardID, err)
		}
		return labels, nil
	})
}

// Cards retrieves the open cards of a board.
func (s *TrelloService) Cards(ctx context.Context, boardID string) ([]models.SourceCard, error) {
	return cachedList(s.cache, CacheCards, boardID, func() ([]models.SourceCard, error) {
		var cards []models.SourceCard
		if err := s.fetch(ctx, "/boards/"+url.PathEscape(boardID)+"/cards", url.Values{"filter": {"open"}}, &cards); err != nil {
			return nil, fmt.Errorf("failed to fetch cards of board %s: %w", boardID, err)
		}
		return cards, nil
	})
}

// CardChecklists retrieves the checklists of a card.
func (s *TrelloService) CardChecklists(ctx context.Context, cardID string) ([]models.SourceChecklist, error) {
	var checklists []models.SourceChecklist
	if err := s.fetch(ctx, "/cards/"+url.PathEscape(cardID)+"/checklists", nil, &checklists); err != nil {
		return nil, fmt.Errorf("failed to fetch checklists of card %s: %w", cardID, err)
	}
	return checklists, nil
}

// CardAttachments retrieves the attachments of a card.
func (s *TrelloService) CardAttachments(ctx context.Context, cardID string) ([]models.SourceAttachment, error) {
	var attachments []models.SourceAttachment
	if err := s.fetch(ctx, "/cards/"+url.PathEscape(cardID)+"/attachments", nil, &attachments); err != nil {
		return nil, fmt.Errorf("failed to fetch attachments of card %s: %w", cardID, err)
	}
	return attachments, nil
}

// CommentActions retrieves every comment action of a board, newest first as the API pages them.
func (s *TrelloService) CommentActions(ctx context.Context, boardID string) ([]models.SourceAction, error) {
	params := url.Values{"filter": {"commentCard"}}
	actions, err := paginate(ctx, s, "/boards/"+url.PathEscape(boardID)+"/actions", params,
		func(a models.SourceAction) string { return a.ID })
	if err != nil {
		return nil, fmt.Errorf("failed to fetch comments of board %s: %w", boardID, err)
	}
	return actions, nil
}

// Download fetches a source-hosted attachment.
func (s *TrelloService) Download(ctx context.Context, fileURL string, maxBytes int64) (*File, error) {
	resp, err := s.get(ctx, fileURL, maxBytes, true)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", redact(fileURL), err)
	}
	return &File{Data: resp.body, ContentType: resp.contentType}, nil
}

// paginate walks a before-cursor listing: each page's last id becomes the next "before"
// token until a short page arrives.
func paginate[T any](ctx context.Context, s *TrelloService, path string, params url.Values, idOf func(T) string) ([]T, error) {
	var all []T
	before := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(PageSize))
		if before != "" {
			q.Set("before", before)
		}

		var page []T
		if err := s.fetch(ctx, path, q, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)

		if len(page) < PageSize {
			return all, nil
		}
		next := idOf(page[len(page)-1])
		if next == "" || next == before {
			return all, nil
		}
		before = next
	}
}

func (s *TrelloService) fetch(ctx context.Context, path string, params url.Values, out any) error {
	resp, err := s.get(ctx, s.buildURL(path, params), 0, false)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// buildURL constructs a full API URL with query authentication when key/token credentials are used.
func (s *TrelloService) buildURL(path string, params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if s.credentials.AccessToken == "" {
		q.Set("key", s.credentials.APIKey)
		q.Set("token", s.credentials.Token)
	}
	u := s.baseURL + path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

type response struct {
	body        []byte
	contentType string
}

// retryableError marks failures that consume an attempt.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// rateLimitedError carries the wait requested by a 429 response.
type rateLimitedError struct{ wait time.Duration }

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("%v: retry after %s", shared.ErrRateLimited, e.wait)
}

func (e *rateLimitedError) Unwrap() error { return shared.ErrRateLimited }

// get performs a GET with pacing, retry and rate-limit handling.
func (s *TrelloService) get(ctx context.Context, rawURL string, maxBytes int64, download bool) (*response, error) {
	attempts := 0
	op := func() (*response, error) {
		attempts++
		for {
			resp, err := s.attempt(ctx, rawURL, maxBytes, download)
			var limited *rateLimitedError
			if !errors.As(err, &limited) {
				return resp, err
			}
			s.logger.Warn("rate limited by source", "url", redact(rawURL), "retry_after", limited.wait)
			if err := s.sleep(ctx, limited.wait); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Debug("retrying source request", "url", redact(rawURL), "attempt", attempts, "wait", wait, "err", err)
	}

	resp, err := backoff.RetryNotifyWithData(op, s.retry.backOff(ctx), notify)
	if err != nil {
		var retryable *retryableError
		if errors.As(err, &retryable) {
			return nil, fmt.Errorf("%w after %d attempts: %w", shared.ErrRetriesExhausted, attempts, retryable.err)
		}
		return nil, err
	}
	return resp, nil
}

// attempt performs a single request bounded by the per-call timeout.
func (s *TrelloService) attempt(ctx context.Context, rawURL string, maxBytes int64, download bool) (*response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, backoff.Permanent(err)
	}

	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if download {
		s.authorizeDownload(req)
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", shared.ErrTimeout, err)
		}
		return nil, &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &rateLimitedError{wait: parseRetryAfter(resp.Header.Get("Retry-After"), s.now())}
	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("%w: status %d", shared.ErrAPIRequest, resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", shared.ErrNotFound, redact(rawURL)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d: %s", shared.ErrAPIRequest, resp.StatusCode, strings.TrimSpace(string(body))))
	}

	limit := s.maxResponse
	if download {
		limit = maxBytes
	}
	body, err := readBody(resp.Body, limit, download)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		var tooLarge *tooLargeError
		if errors.As(err, &tooLarge) {
			return nil, backoff.Permanent(err)
		}
		return nil, &retryableError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	return &response{body: body, contentType: resp.Header.Get("Content-Type")}, nil
}

type tooLargeError struct{ err error }

func (e *tooLargeError) Error() string { return e.err.Error() }
func (e *tooLargeError) Unwrap() error { return e.err }

// readBody reads a response body of at most limit bytes. A limit <= 0 reads it all.
func readBody(r io.Reader, limit int64, download bool) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		if download {
			return nil, &tooLargeError{fmt.Errorf("%w: more than %d bytes", shared.ErrFileTooLarge, limit)}
		}
		return nil, &tooLargeError{fmt.Errorf("%w: response exceeds %d bytes", shared.ErrAPIRequest, limit)}
	}
	return body, nil
}

// authorizeDownload sets the OAuth header the download endpoint expects for key/token
// credentials. Bearer credentials are attached by the oauth2 transport.
func (s *TrelloService) authorizeDownload(req *http.Request) {
	if s.credentials.AccessToken != "" {
		return
	}
	req.Header.Set("Authorization", fmt.Sprintf(`OAuth oauth_consumer_key="%s", oauth_token="%s"`,
		s.credentials.APIKey, s.credentials.Token))
}

// parseRetryAfter reads delta-seconds or an HTTP date, defaulting to [DefaultRetryAfter].
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRetryAfter
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return DefaultRetryAfter
}

// redact strips credentials from a URL before it is logged or wrapped into an error.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("key") || q.Has("token") {
		q.Del("key")
		q.Del("token")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
