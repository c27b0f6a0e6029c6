// Package profile manages the per-user profile: lazy creation, updates,
// username availability and avatar uploads.
package profile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"trade-journal-go/internal/blobstore"
	"trade-journal-go/internal/models"
	"trade-journal-go/internal/store"

	"go.uber.org/zap"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 30
	maxFullNameLength = 100
	// MaxAvatarBytes bounds avatar uploads.
	MaxAvatarBytes = 5 << 20
)

// ErrUsernameTaken is returned when another profile already holds the username.
var ErrUsernameTaken = fmt.Errorf("username is already taken: %w", store.ErrUniqueViolation)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

var avatarTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// BlobStore keeps avatar images.
type BlobStore interface {
	Put(ctx context.Context, bucket, key string, data []byte) (string, error)
	Remove(ctx context.Context, url string) error
}

// Update carries the fields a profile update may change. Nil leaves a field
// as it is; an empty string clears it.
type Update struct {
	FullName *string `json:"full_name"`
	Username *string `json:"username"`
	Timezone *string `json:"timezone"`
}

// Service implements the profile workflows.
type Service struct {
	profiles store.ProfileStore
	blobs    BlobStore
	checker  *AvailabilityChecker
	logger   *zap.Logger
	now      func() time.Time
}

// NewService returns a profile Service. debounce is the delay applied to
// username availability checks.
func NewService(profiles store.ProfileStore, blobs BlobStore, debounce time.Duration, logger *zap.Logger) *Service {
	logger = logger.Named("profile")
	return &Service{
		profiles: profiles,
		blobs:    blobs,
		checker:  NewAvailabilityChecker(profiles, debounce, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// NormalizeUsername checks the username rules and returns the lowercase form.
func NormalizeUsername(username string) (string, error) {
	u := strings.TrimSpace(username)
	switch {
	case len(u) < minUsernameLength:
		return "", &models.ValidationError{Field: "username", Message: fmt.Sprintf("must be at least %d characters", minUsernameLength)}
	case len(u) > maxUsernameLength:
		return "", &models.ValidationError{Field: "username", Message: fmt.Sprintf("must be at most %d characters", maxUsernameLength)}
	case !usernamePattern.MatchString(u):
		return "", &models.ValidationError{Field: "username", Message: "may only contain letters, digits and underscores"}
	}
	return strings.ToLower(u), nil
}

// Get returns the owner's profile, creating an empty one on first access.
func (s *Service) Get(ctx context.Context, id, email string) (*models.Profile, error) {
	p, err := s.profiles.GetProfile(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	p = &models.Profile{ID: id}
	if email != "" {
		p.Email = &email
	}
	if err := s.profiles.CreateProfile(ctx, p); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			// created by a concurrent request
			return s.profiles.GetProfile(ctx, id)
		}
		return nil, err
	}
	s.logger.Info("Created profile", zap.String("user_id", id))
	return p, nil
}

// Update applies u to the owner's profile.
func (s *Service) Update(ctx context.Context, id string, u Update) (*models.Profile, error) {
	p, err := s.Get(ctx, id, "")
	if err != nil {
		return nil, err
	}

	if u.FullName != nil {
		name := strings.TrimSpace(*u.FullName)
		if len(name) > maxFullNameLength {
			return nil, &models.ValidationError{Field: "full_name", Message: fmt.Sprintf("must be at most %d characters", maxFullNameLength)}
		}
		p.FullName = optional(name)
	}

	if u.Timezone != nil {
		tz := strings.TrimSpace(*u.Timezone)
		if tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return nil, &models.ValidationError{Field: "timezone", Message: fmt.Sprintf("unknown timezone %q", tz)}
			}
		}
		p.Timezone = optional(tz)
	}

	if u.Username != nil {
		username, err := NormalizeUsername(*u.Username)
		if err != nil {
			return nil, err
		}
		taken, err := s.profiles.UsernameExists(ctx, username, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrUsernameTaken
		}
		p.Username = &username
	}

	if err := s.profiles.UpdateProfile(ctx, p); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return p, nil
}

// CheckUsername reports whether username is available to the owner. A check
// replaced by a newer one from the same owner returns ErrSuperseded.
func (s *Service) CheckUsername(ctx context.Context, ownerID, username string) (Availability, error) {
	return s.checker.Check(ctx, ownerID, username)
}

// UploadAvatar stores a new avatar image and points the profile at it. The
// content must sniff as the declared type, which also picks the stored
// extension. The previous avatar, if any, is released.
func (s *Service) UploadAvatar(ctx context.Context, id, filename, contentType string, data []byte) (*models.Profile, error) {
	if len(data) == 0 {
		return nil, &models.ValidationError{Field: "avatar", Message: "no file provided"}
	}
	ext, ok := avatarTypes[contentType]
	if !ok {
		return nil, &models.ValidationError{Field: "avatar", Message: "must be a JPEG, PNG, GIF or WebP image"}
	}
	if len(data) > MaxAvatarBytes {
		return nil, &models.ValidationError{Field: "avatar", Message: "must be at most 5MB"}
	}
	// The object is served by extension, so the bytes must be what the header claims.
	if sniffed := http.DetectContentType(data); sniffed != contentType {
		s.logger.Warn("Avatar content does not match declared type",
			zap.String("user_id", id),
			zap.String("filename", filename),
			zap.String("declared", contentType),
			zap.String("detected", sniffed),
		)
		return nil, &models.ValidationError{Field: "avatar", Message: "file content does not match its type"}
	}

	p, err := s.Get(ctx, id, "")
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%d.%s", id, s.now().UnixMilli(), ext)
	url, err := s.blobs.Put(ctx, blobstore.BucketAvatars, key, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store avatar: %w", err)
	}

	previous := p.AvatarURL
	p.AvatarURL = &url
	if err := s.profiles.UpdateProfile(ctx, p); err != nil {
		if rmErr := s.blobs.Remove(ctx, url); rmErr != nil {
			s.logger.Error("Failed to remove orphaned avatar", zap.String("url", url), zap.Error(rmErr))
		}
		return nil, err
	}

	if previous != nil && *previous != "" {
		if err := s.blobs.Remove(ctx, *previous); err != nil {
			s.logger.Warn("Failed to remove previous avatar", zap.String("url", *previous), zap.Error(err))
		}
	}
	return p, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
