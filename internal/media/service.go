// Package media stores user avatars and serves them back by URL.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"chat-sync/internal/apperr"
	"chat-sync/internal/ids"
)

// RoutePrefix is the HTTP path under which blobs are served.
const RoutePrefix = "/media/"

var allowedMIMEs = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/heic": "heic",
}

var errTooLarge = errors.New("file is too large")

// Blob is a downloaded object.
type Blob struct {
	Data        []byte
	ContentType string
}

// Service validates, names and stores avatars.
type Service struct {
	storage  Storage
	baseURL  string
	maxBytes int64
	log      zerolog.Logger
}

func NewService(storage Storage, publicBaseURL string, maxBytes int64, log zerolog.Logger) *Service {
	return &Service{
		storage:  storage,
		baseURL:  strings.TrimSuffix(publicBaseURL, "/"),
		maxBytes: maxBytes,
		log:      log.With().Str("component", "media-service").Logger(),
	}
}

// Check sniffs data and returns its mime type and file extension when it is
// an accepted avatar.
func (s *Service) Check(data []byte) (string, string, error) {
	const op = "media.Check"
	if len(data) == 0 {
		return "", "", apperr.Validation(op, apperr.ErrMissingAvatar)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", "", apperr.New(apperr.KindValidation, op,
			fmt.Sprintf("file exceeds max size of %d bytes", s.maxBytes), errTooLarge)
	}
	mimeType := mimetype.Detect(data).String()
	ext, ok := allowedMIMEs[mimeType]
	if !ok {
		return "", "", apperr.New(apperr.KindValidation, op,
			fmt.Sprintf("unsupported mime type %s", mimeType), apperr.ErrUnsupportedContent)
	}
	return mimeType, ext, nil
}

// Put stores an avatar for uid and returns its public URL. The declared
// content type is advisory; the sniffed type is what gets stored.
func (s *Service) Put(ctx context.Context, uid string, data []byte, contentType string) (string, error) {
	const op = "media.Put"
	mimeType, ext, err := s.Check(data)
	if err != nil {
		return "", err
	}
	if declared := strings.TrimSpace(contentType); declared != "" && !strings.EqualFold(declared, mimeType) {
		s.log.Debug().Str("declared", declared).Str("detected", mimeType).Msg("content type mismatch")
	}

	key := fmt.Sprintf("avatars/%s/%s.%s", uid, ids.New(), ext)
	if err := s.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), mimeType); err != nil {
		return "", apperr.Storage(op, err)
	}
	s.log.Info().Str("uid", uid).Str("key", key).Int("bytes", len(data)).Msg("avatar stored")
	return s.URLFor(key), nil
}

// URLFor returns the stable public URL of key.
func (s *Service) URLFor(key string) string {
	return s.baseURL + RoutePrefix + key
}

// KeyFromURL extracts the storage key from a URL produced by Put.
func (s *Service) KeyFromURL(raw string) (string, error) {
	prefix := s.baseURL + RoutePrefix
	if strings.HasPrefix(raw, prefix) {
		return strings.TrimPrefix(raw, prefix), nil
	}
	parsed, err := url.Parse(raw)
	if err != nil || !strings.HasPrefix(parsed.Path, RoutePrefix) {
		return "", apperr.NotFound("media.KeyFromURL", fmt.Errorf("not a media url: %q", raw))
	}
	return strings.TrimPrefix(parsed.Path, RoutePrefix), nil
}

// Get downloads the blob behind a URL produced by Put.
func (s *Service) Get(ctx context.Context, rawURL string) (Blob, error) {
	key, err := s.KeyFromURL(rawURL)
	if err != nil {
		return Blob{}, err
	}
	return s.Fetch(ctx, key)
}

// Fetch downloads a blob by key.
func (s *Service) Fetch(ctx context.Context, key string) (Blob, error) {
	const op = "media.Fetch"
	key = strings.TrimPrefix(key, "/")
	if !wellFormedKey(key) {
		return Blob{}, apperr.NotFound(op, ErrObjectNotFound)
	}
	reader, contentType, err := s.storage.Download(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return Blob{}, apperr.NotFound(op, err)
	}
	if err != nil {
		return Blob{}, apperr.Storage(op, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Blob{}, apperr.Storage(op, err)
	}
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return Blob{Data: data, ContentType: contentType}, nil
}

// Delete removes the blob behind a URL produced by Put.
func (s *Service) Delete(ctx context.Context, rawURL string) error {
	key, err := s.KeyFromURL(rawURL)
	if err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, key); err != nil {
		return apperr.Storage("media.Delete", err)
	}
	return nil
}

// wellFormedKey reports whether key has the avatars/<uid>/<ulid>.<ext> shape
// Put produces.
func wellFormedKey(key string) bool {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != "avatars" || parts[1] == "" {
		return false
	}
	stem, ext, ok := strings.Cut(parts[2], ".")
	return ok && ext != "" && ids.IsValid(stem)
}

// Health reports whether the backend is reachable.
func (s *Service) Health(ctx context.Context) error {
	return s.storage.Health(ctx)
}
