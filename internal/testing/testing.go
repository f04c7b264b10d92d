// package testing contains shared testing utilities
package testing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/boardx/internal/models"
)

// FakeBoard is the source state of one board served by [FakeTrello].
type FakeBoard struct {
	Board       models.SourceBoard
	Members     []models.SourceMember
	Lists       []models.SourceList
	Labels      []models.SourceLabel
	Cards       []models.SourceCard
	Comments    []models.SourceAction
	Checklists  map[string][]models.SourceChecklist  // by card id
	Attachments map[string][]models.SourceAttachment // by card id
}

// FakeTrello serves a small subset of the Trello REST API from in-memory boards.
//
// Paths registered with Fail answer with the given status; every request is counted by path.
type FakeTrello struct {
	Server *httptest.Server

	mu       sync.Mutex
	boards   map[string]*FakeBoard
	files    map[string][]byte
	fail     map[string]int
	requests map[string]int
}

// NewFakeTrello starts a fake source API that is closed with the test.
func NewFakeTrello(t *testing.T) *FakeTrello {
	t.Helper()
	f := &FakeTrello{
		boards:   make(map[string]*FakeBoard),
		files:    make(map[string][]byte),
		fail:     make(map[string]int),
		requests: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /boards/{id}", f.board)
	mux.HandleFunc("GET /boards/{id}/{kind}", f.boardList)
	mux.HandleFunc("GET /cards/{id}/{kind}", f.cardList)
	mux.HandleFunc("GET /files/{id}", f.file)

	f.Server = httptest.NewServer(f.guard(mux))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the API base URL.
func (f *FakeTrello) URL() string { return f.Server.URL }

// FileURL returns the download URL of an attachment body added with AddFile.
func (f *FakeTrello) FileURL(id string) string { return f.Server.URL + "/files/" + id }

// AddBoard serves b under its board id.
func (f *FakeTrello) AddBoard(b *FakeBoard) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards[b.Board.ID] = b
}

// AddFile serves data at FileURL(id).
func (f *FakeTrello) AddFile(id string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[id] = data
}

// Update mutates served state under the server's lock.
func (f *FakeTrello) Update(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

// Fail makes path answer with status. A zero status clears it.
func (f *FakeTrello) Fail(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.fail, path)
		return
	}
	f.fail[path] = status
}

// Requests returns how many times path was requested.
func (f *FakeTrello) Requests(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func (f *FakeTrello) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests[r.URL.Path]++
		status := f.fail[r.URL.Path]
		f.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeTrello) board(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[r.PathValue("id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, b.Board)
}

func (f *FakeTrello) boardList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[r.PathValue("id")]
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.PathValue("kind") {
	case "members":
		writeJSON(w, b.Members)
	case "lists":
		writeJSON(w, b.Lists)
	case "labels":
		writeJSON(w, b.Labels)
	case "cards":
		writeJSON(w, b.Cards)
	case "actions":
		// One page holds everything, so a cursor always reaches the end.
		if r.URL.Query().Get("before") != "" {
			writeJSON(w, []models.SourceAction{})
			return
		}
		writeJSON(w, b.Comments)
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeTrello) cardList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	card := r.PathValue("id")
	for _, b := range f.boards {
		switch r.PathValue("kind") {
		case "checklists":
			if cl, ok := b.Checklists[card]; ok {
				writeJSON(w, cl)
				return
			}
		case "attachments":
			if atts, ok := b.Attachments[card]; ok {
				writeJSON(w, atts)
				return
			}
		default:
			http.NotFound(w, r)
			return
		}
	}
	writeJSON(w, []struct{}{})
}

func (f *FakeTrello) file(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	data, ok := f.files[r.PathValue("id")]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}
