package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/desertthunder/boardx/internal/shared"
)

// DefaultPresignTTL is used when a FileStore is created without a TTL.
const DefaultPresignTTL = 15 * time.Minute

// FileStore keeps objects as files under a root directory.
//
// Presigned URLs are file:// URLs carrying an expiry and an HMAC-SHA256 signature over the key and
// expiry, checked by [FileStore.Verify].
type FileStore struct {
	name   string
	root   string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewFileStore creates a FileStore rooted at dir, creating the directory if needed.
func NewFileStore(name, dir, secret string, ttl time.Duration) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: blob directory for %s", shared.ErrMissingConfig, name)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob directory: %w", err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	return &FileStore{name: name, root: root, secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *FileStore) Name() string { return s.name }

func (s *FileStore) path(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Upload writes data to a temporary file and renames it into place.
func (s *FileStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return key, nil
}

// PresignDownload returns a signed file:// URL valid for the store's TTL.
func (s *FileStore) PresignDownload(ctx context.Context, key string) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: blob %s", shared.ErrNotFound, key)
		}
		return "", fmt.Errorf("failed to stat blob: %w", err)
	}

	expires := s.now().Add(s.ttl).Unix()
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(p)}
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.sign(key, expires))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Verify checks a presigned URL's signature and expiry for key.
func (s *FileStore) Verify(key, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: missing expiry", shared.ErrInvalidInput)
	}
	sig, err := hex.DecodeString(u.Query().Get("signature"))
	if err != nil {
		return fmt.Errorf("%w: bad signature encoding", shared.ErrInvalidInput)
	}
	want, _ := hex.DecodeString(s.sign(key, expires))
	if !hmac.Equal(sig, want) {
		return fmt.Errorf("%w: signature mismatch", shared.ErrInvalidInput)
	}
	if s.now().Unix() > expires {
		return fmt.Errorf("%w: presigned url expired", shared.ErrInvalidInput)
	}
	return nil
}

func (s *FileStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(s.name + "\n" + key + "\n" + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Delete removes the file stored under key.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
