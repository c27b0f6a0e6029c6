package profile

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"trade-journal-go/internal/blobstore"
	"trade-journal-go/internal/config"
	"trade-journal-go/internal/database"
	"trade-journal-go/internal/models"
	"trade-journal-go/internal/store"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupService(t *testing.T) (*Service, afero.Fs) {
	t.Helper()
	db, err := database.NewDatabase(config.Database{DSN: "file::memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	fs := afero.NewMemMapFs()
	svc := NewService(store.New(db, zap.NewNop()), blobstore.New(fs, "/media", zap.NewNop()), time.Millisecond, zap.NewNop())
	tick := int64(0)
	svc.now = func() time.Time {
		tick++
		return time.UnixMilli(1700000000000 + tick)
	}
	return svc, fs
}

func ptr(s string) *string { return &s }

func TestNormalizeUsername(t *testing.T) {
	testCases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Trader_Joe", want: "trader_joe"},
		{in: "  abc  ", want: "abc"},
		{in: "ab", wantErr: true},
		{in: "has space", wantErr: true},
		{in: "dash-name", wantErr: true},
		{in: strings.Repeat("a", 31), wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizeUsername(tc.in)
			if tc.wantErr {
				var verr *models.ValidationError
				assert.ErrorAs(t, err, &verr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetCreatesLazily(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	p, err := svc.Get(ctx, "u1", "joe@example.com")
	require.NoError(t, err)
	assert.Equal(t, "joe@example.com", *p.Email)
	assert.Nil(t, p.Username)

	again, err := svc.Get(ctx, "u1", "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, "joe@example.com", *again.Email)
}

func TestUpdate(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	p, err := svc.Update(ctx, "u1", Update{
		FullName: ptr("  Joe Trader "),
		Username: ptr("Joe_T"),
		Timezone: ptr("America/New_York"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Joe Trader", *p.FullName)
	assert.Equal(t, "joe_t", *p.Username)
	assert.Equal(t, "America/New_York", p.Location().String())

	t.Run("TakenCaseInsensitive", func(t *testing.T) {
		_, err := svc.Update(ctx, "u2", Update{Username: ptr("JOE_T")})
		assert.ErrorIs(t, err, ErrUsernameTaken)
		assert.ErrorIs(t, err, store.ErrUniqueViolation)
	})

	t.Run("KeepOwnUsername", func(t *testing.T) {
		_, err := svc.Update(ctx, "u1", Update{Username: ptr("joe_t")})
		assert.NoError(t, err)
	})

	t.Run("UnknownTimezone", func(t *testing.T) {
		_, err := svc.Update(ctx, "u1", Update{Timezone: ptr("Mars/Olympus")})
		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "timezone", verr.Field)
	})

	t.Run("ClearTimezone", func(t *testing.T) {
		p, err := svc.Update(ctx, "u1", Update{Timezone: ptr("")})
		require.NoError(t, err)
		assert.Nil(t, p.Timezone)
		assert.Equal(t, time.UTC, p.Location())
	})
}

func avatarBytes(t *testing.T, encode func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestUploadAvatar(t *testing.T) {
	svc, fs := setupService(t)
	ctx := context.Background()
	pngData := avatarBytes(t, func(b *bytes.Buffer, m image.Image) error { return png.Encode(b, m) })
	jpegData := avatarBytes(t, func(b *bytes.Buffer, m image.Image) error { return jpeg.Encode(b, m, nil) })

	p, err := svc.UploadAvatar(ctx, "u1", "me.PNG", "image/png", pngData)
	require.NoError(t, err)
	first := *p.AvatarURL
	assert.Equal(t, "/media/avatars/u1/1700000000001.png", first)

	p, err = svc.UploadAvatar(ctx, "u1", "", "image/jpeg", jpegData)
	require.NoError(t, err)
	assert.Equal(t, "/media/avatars/u1/1700000000002.jpg", *p.AvatarURL)

	exists, _ := afero.Exists(fs, "/avatars/u1/1700000000001.png")
	assert.False(t, exists, "previous avatar released")
	exists, _ = afero.Exists(fs, "/avatars/u1/1700000000002.jpg")
	assert.True(t, exists)

	t.Run("ExtensionFollowsContentType", func(t *testing.T) {
		p, err := svc.UploadAvatar(ctx, "u1", "avatar.html", "image/png", pngData)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(*p.AvatarURL, ".png"), *p.AvatarURL)
	})

	t.Run("Rejected", func(t *testing.T) {
		testCases := []struct {
			name        string
			filename    string
			contentType string
			data        []byte
		}{
			{name: "Unsupported type", filename: "a.bmp", contentType: "image/bmp", data: []byte("x")},
			{name: "Too large", filename: "a.png", contentType: "image/png", data: make([]byte, MaxAvatarBytes+1)},
			{name: "Empty", filename: "a.png", contentType: "image/png"},
			{name: "Markup declared as png", filename: "evil.html", contentType: "image/png", data: []byte("<script>alert(1)</script>")},
			{name: "Png declared as jpeg", filename: "a.jpg", contentType: "image/jpeg", data: pngData},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				before, _ := svc.Get(ctx, "u1", "")
				_, err := svc.UploadAvatar(ctx, "u1", tc.filename, tc.contentType, tc.data)

				var verr *models.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "avatar", verr.Field)

				after, _ := svc.Get(ctx, "u1", "")
				assert.Equal(t, before.AvatarURL, after.AvatarURL)
			})
		}

		matches, _ := afero.Glob(fs, "/avatars/u1/*.html")
		assert.Empty(t, matches)
	})
}

func TestCheckUsername(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	_, err := svc.Update(ctx, "u1", Update{Username: ptr("taken_name")})
	require.NoError(t, err)

	a, err := svc.CheckUsername(ctx, "u2", "Taken_Name")
	require.NoError(t, err)
	assert.False(t, a.Available)

	a, err = svc.CheckUsername(ctx, "u2", "free_name")
	require.NoError(t, err)
	assert.True(t, a.Available)
	assert.Equal(t, "free_name", a.Username)

	a, err = svc.CheckUsername(ctx, "u1", "taken_name")
	require.NoError(t, err)
	assert.True(t, a.Available, "own username")

	a, err = svc.CheckUsername(ctx, "u2", "ab")
	require.NoError(t, err)
	assert.False(t, a.Available)
	assert.NotEmpty(t, a.Reason)
}

// blockingStore holds every lookup until released or cancelled.
type blockingStore struct {
	store.ProfileStore
	started chan string
	release chan struct{}
}

func (b *blockingStore) UsernameExists(ctx context.Context, username, _ string) (bool, error) {
	b.started <- username
	select {
	case <-b.release:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func TestAvailabilityCheckerSupersede(t *testing.T) {
	t.Run("DuringDebounce", func(t *testing.T) {
		bs := &blockingStore{started: make(chan string, 2), release: make(chan struct{})}
		close(bs.release)
		c := NewAvailabilityChecker(bs, 100*time.Millisecond, zap.NewNop())

		var wg sync.WaitGroup
		var firstErr error
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, firstErr = c.Check(context.Background(), "u1", "first_name")
		}()
		time.Sleep(20 * time.Millisecond)

		a, err := c.Check(context.Background(), "u1", "second_name")
		wg.Wait()

		require.NoError(t, err)
		assert.Equal(t, "second_name", a.Username)
		assert.ErrorIs(t, firstErr, ErrSuperseded)
		assert.Equal(t, "second_name", <-bs.started)
		assert.Len(t, bs.started, 0, "superseded check never reached the store")
	})

	t.Run("DuringLookup", func(t *testing.T) {
		bs := &blockingStore{started: make(chan string, 2), release: make(chan struct{})}
		c := NewAvailabilityChecker(bs, time.Millisecond, zap.NewNop())

		var firstErr error
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, firstErr = c.Check(context.Background(), "u1", "first_name")
		}()
		require.Equal(t, "first_name", <-bs.started)

		secondDone := make(chan struct{})
		var second Availability
		var secondErr error
		go func() {
			defer close(secondDone)
			second, secondErr = c.Check(context.Background(), "u1", "second_name")
		}()

		<-done
		assert.ErrorIs(t, firstErr, ErrSuperseded)

		require.Equal(t, "second_name", <-bs.started)
		close(bs.release)
		<-secondDone
		require.NoError(t, secondErr)
		assert.True(t, second.Available)
	})

	t.Run("OtherOwnersIndependent", func(t *testing.T) {
		bs := &blockingStore{started: make(chan string, 2), release: make(chan struct{})}
		close(bs.release)
		c := NewAvailabilityChecker(bs, 20*time.Millisecond, zap.NewNop())

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, owner := range []string{"u1", "u2"} {
			wg.Add(1)
			go func(i int, owner string) {
				defer wg.Done()
				_, errs[i] = c.Check(context.Background(), owner, "same_name")
			}(i, owner)
		}
		wg.Wait()

		assert.NoError(t, errs[0])
		assert.NoError(t, errs[1])
	})

	t.Run("CallerCancelled", func(t *testing.T) {
		bs := &blockingStore{started: make(chan string, 1), release: make(chan struct{})}
		c := NewAvailabilityChecker(bs, time.Second, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Check(ctx, "u1", "some_name")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
