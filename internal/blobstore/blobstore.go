// Package blobstore keeps uploaded screenshots and avatars on an afero
// filesystem and serves them under a public URL prefix.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	BucketScreenshots = "trade-screenshots"
	BucketAvatars     = "avatars"
)

var (
	// ErrNotFound is returned by Remove when the object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrForeignURL is returned for URLs this store did not hand out.
	ErrForeignURL = errors.New("url does not belong to this store")
)

// Store writes objects as files below bucket directories.
type Store struct {
	fs            afero.Fs
	publicBaseURL string
	logger        *zap.Logger
}

// New returns a Store on fs. Object URLs are publicBaseURL/bucket/key.
func New(fs afero.Fs, publicBaseURL string, logger *zap.Logger) *Store {
	return &Store{
		fs:            fs,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:        logger.Named("blobstore"),
	}
}

// NewOnDisk returns a Store rooted at dir on the local filesystem.
func NewOnDisk(dir, publicBaseURL string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", dir, err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), publicBaseURL, logger), nil
}

// Put stores data under bucket/key and returns its public URL.
func (s *Store) Put(ctx context.Context, bucket, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := objectPath(bucket, key)
	if err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return "", fmt.Errorf("failed to create bucket directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, name, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write object %s: %w", name, err)
	}
	s.logger.Debug("Stored object", zap.String("path", name), zap.Int("bytes", len(data)))
	return s.publicBaseURL + name, nil
}

// Remove deletes the object behind url.
func (s *Store) Remove(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bucket, key, err := s.KeyFromURL(url)
	if err != nil {
		return err
	}
	name, err := objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to remove object %s: %w", name, err)
	}
	return nil
}

// KeyFromURL splits a public URL back into bucket and key.
func (s *Store) KeyFromURL(url string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(url, s.publicBaseURL+"/")
	if !ok {
		return "", "", ErrForeignURL
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", ErrForeignURL
	}
	return bucket, key, nil
}

// FileSystem exposes the stored objects for http.FileServer.
func (s *Store) FileSystem() http.FileSystem {
	return afero.NewHttpFs(s.fs)
}

// PublicBaseURL is the prefix every object URL starts with.
func (s *Store) PublicBaseURL() string {
	return s.publicBaseURL
}

func objectPath(bucket, key string) (string, error) {
	if bucket != BucketScreenshots && bucket != BucketAvatars {
		return "", fmt.Errorf("unknown bucket %q", bucket)
	}
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return "/" + bucket + clean, nil
}
