package journal

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"trade-journal-go/internal/analytics"
	"trade-journal-go/internal/blobstore"
	"trade-journal-go/internal/config"
	"trade-journal-go/internal/database"
	"trade-journal-go/internal/extractor"
	"trade-journal-go/internal/gemini"
	"trade-journal-go/internal/imaging"
	"trade-journal-go/internal/models"
	"trade-journal-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAnalyzer struct {
	reply    string
	err      error
	gotMIME  string
	gotBytes int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, image []byte, mimeType string) (string, error) {
	f.gotMIME, f.gotBytes = mimeType, len(image)
	return f.reply, f.err
}

// failingStore fails every call; embedding the interface keeps it short.
type failingStore struct {
	store.TradeStore
	err error
}

func (f failingStore) List(context.Context, string, models.TradeFilter) ([]models.Trade, error) {
	return nil, f.err
}

func (f failingStore) Insert(context.Context, *models.Trade) error { return f.err }

type fixture struct {
	svc      *Service
	store    *store.Store
	fs       afero.Fs
	analyzer *fakeAnalyzer
}

func setupService(t *testing.T) fixture {
	t.Helper()
	db, err := database.NewDatabase(config.Database{DSN: "file::memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	st := store.New(db, zap.NewNop())
	fs := afero.NewMemMapFs()
	blobs := blobstore.New(fs, "/media", zap.NewNop())
	analyzer := &fakeAnalyzer{}
	svc := NewService(st, blobs, analyzer, imaging.NewNormalizer(1024, 85, zap.NewNop()), zap.NewNop())
	svc.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }

	return fixture{svc: svc, store: st, fs: fs, analyzer: analyzer}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

const goodReply = `Sure! {"market_bias":"bearish","confluence_factors":["sweep"],"setup_grade":"A",` +
	`"confidence":81.6,"entry_coordinate":{"x":40,"y":60},"reasoning":"Clear shift."} Hope that helps.`

func validAnalysis() *extractor.Analysis {
	a, err := extractor.Extract(goodReply)
	if err != nil {
		panic(err)
	}
	return a
}

func TestAnalyze(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := setupService(t)
		f.analyzer.reply = goodReply

		out, err := f.svc.Analyze(context.Background(), pngBytes(t, 2048, 1024))

		require.NoError(t, err)
		assert.Equal(t, models.GradeA, out.Analysis.SetupGrade)
		assert.Equal(t, "image/jpeg", f.analyzer.gotMIME)
		assert.Equal(t, 1024, out.Width)
		assert.Equal(t, 512, out.Height)
		assert.Contains(t, out.Image, "data:image/jpeg;base64,")
	})

	t.Run("ExtractionFailure", func(t *testing.T) {
		f := setupService(t)
		f.analyzer.reply = "I cannot see a chart here."

		_, err := f.svc.Analyze(context.Background(), pngBytes(t, 10, 10))

		assert.ErrorIs(t, err, extractor.ErrExtraction)
	})

	t.Run("GatewayFailure", func(t *testing.T) {
		f := setupService(t)
		f.analyzer.err = gemini.ErrQuota

		_, err := f.svc.Analyze(context.Background(), pngBytes(t, 10, 10))

		assert.ErrorIs(t, err, gemini.ErrQuota)
	})

	t.Run("UndecodableImageIsSentAsIs", func(t *testing.T) {
		f := setupService(t)
		f.analyzer.reply = goodReply
		raw := []byte("GIF89a-not-really")

		_, err := f.svc.Analyze(context.Background(), raw)

		require.NoError(t, err)
		assert.Equal(t, "image/gif", f.analyzer.gotMIME)
		assert.Equal(t, len(raw), f.analyzer.gotBytes)
	})

	t.Run("EmptyImage", func(t *testing.T) {
		f := setupService(t)
		_, err := f.svc.Analyze(context.Background(), nil)

		var verr *models.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func baseSubmission() Submission {
	return Submission{
		Instrument:   " EURUSD ",
		Timeframe:    "15m",
		Direction:    models.DirectionShort,
		Result:       models.ResultTakeProfit,
		Session:      models.SessionLondon,
		OpenTime:     time.Date(2024, 3, 8, 9, 30, 0, 0, time.UTC),
		ProfitAmount: decimal.NewNullDecimal(decimal.NewFromInt(120)),
	}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("WithAnalysisAndImage", func(t *testing.T) {
		f := setupService(t)
		sub := baseSubmission()
		sub.Analysis = validAnalysis()
		sub.Image = imaging.Result{Data: []byte{0xff, 0xd8, 0xff}, MIMEType: "image/jpeg"}.DataURL()

		trade, err := f.svc.Submit(ctx, "u1", sub)

		require.NoError(t, err)
		assert.Equal(t, "EURUSD", trade.Instrument)
		assert.Equal(t, models.GradeA, trade.SetupGrade)
		require.NotNil(t, trade.AIConfidence)
		assert.Equal(t, 82, *trade.AIConfidence)
		assert.Equal(t, 40.0, *trade.OverlayEntryX)
		assert.Equal(t, "/media/trade-screenshots/u1/1710072000000.jpg", trade.ImageURL)

		exists, err := afero.Exists(f.fs, "/trade-screenshots/u1/1710072000000.jpg")
		require.NoError(t, err)
		assert.True(t, exists)

		stored, err := f.store.Get(ctx, "u1", trade.ID)
		require.NoError(t, err)
		assert.Equal(t, "Clear shift.", *stored.AIReasoning)
	})

	t.Run("UserGradeWinsOverAnalysis", func(t *testing.T) {
		f := setupService(t)
		sub := baseSubmission()
		sub.SetupGrade = models.GradeB
		sub.Analysis = validAnalysis()

		trade, err := f.svc.Submit(ctx, "u1", sub)

		require.NoError(t, err)
		assert.Equal(t, models.GradeB, trade.SetupGrade)
	})

	t.Run("DefaultsToC", func(t *testing.T) {
		f := setupService(t)

		trade, err := f.svc.Submit(ctx, "u1", baseSubmission())

		require.NoError(t, err)
		assert.Equal(t, models.GradeC, trade.SetupGrade)
		assert.Nil(t, trade.AIConfidence)
	})

	t.Run("InvalidAnalysisDropped", func(t *testing.T) {
		f := setupService(t)
		sub := baseSubmission()
		sub.Analysis = validAnalysis()
		sub.Analysis.SetupGrade = "S"

		trade, err := f.svc.Submit(ctx, "u1", sub)

		require.NoError(t, err)
		assert.Equal(t, models.GradeC, trade.SetupGrade)
		assert.Nil(t, trade.AIReasoning)
	})

	t.Run("ProfitSignMismatch", func(t *testing.T) {
		f := setupService(t)
		sub := baseSubmission()
		sub.Result = models.ResultStoppedOut

		_, err := f.svc.Submit(ctx, "u1", sub)

		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "profit_amount", verr.Field)
	})

	t.Run("BadImage", func(t *testing.T) {
		f := setupService(t)
		sub := baseSubmission()
		sub.Image = "data:text/plain;base64,aGk="

		_, err := f.svc.Submit(ctx, "u1", sub)

		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "image", verr.Field)
	})

	t.Run("LargeImageIsNormalized", func(t *testing.T) {
		f := setupService(t)
		sub := baseSubmission()
		sub.Image = imaging.Result{Data: pngBytes(t, 4000, 2000), MIMEType: "image/png"}.DataURL()

		trade, err := f.svc.Submit(ctx, "u1", sub)

		require.NoError(t, err)
		assert.Equal(t, "/media/trade-screenshots/u1/1710072000000.jpg", trade.ImageURL)

		data, err := afero.ReadFile(f.fs, "/trade-screenshots/u1/1710072000000.jpg")
		require.NoError(t, err)
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
		assert.Equal(t, 1024, cfg.Width)
		assert.Equal(t, 512, cfg.Height)
	})

	t.Run("DeclaredImageWithTextContent", func(t *testing.T) {
		f := setupService(t)
		sub := baseSubmission()
		sub.Image = imaging.Result{Data: []byte("<html>not a chart</html>"), MIMEType: "image/png"}.DataURL()

		_, err := f.svc.Submit(ctx, "u1", sub)

		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "image", verr.Field)
		entries, _ := afero.Glob(f.fs, "/trade-screenshots/u1/*")
		assert.Empty(t, entries)
	})

	t.Run("InsertFailureReleasesImage", func(t *testing.T) {
		f := setupService(t)
		f.svc.trades = failingStore{err: errors.New("disk full")}
		sub := baseSubmission()
		sub.Image = imaging.Result{Data: pngBytes(t, 10, 10), MIMEType: "image/png"}.DataURL()

		_, err := f.svc.Submit(ctx, "u1", sub)

		assert.EqualError(t, err, "disk full")
		exists, _ := afero.Exists(f.fs, "/trade-screenshots/u1/1710072000000.jpg")
		assert.False(t, exists)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("ReleasesImage", func(t *testing.T) {
		f := setupService(t)
		sub := baseSubmission()
		sub.Image = imaging.Result{Data: pngBytes(t, 10, 10), MIMEType: "image/png"}.DataURL()
		trade, err := f.svc.Submit(ctx, "u1", sub)
		require.NoError(t, err)

		require.NoError(t, f.svc.Delete(ctx, "u1", trade.ID))

		exists, _ := afero.Exists(f.fs, "/trade-screenshots/u1/1710072000000.jpg")
		assert.False(t, exists)
		_, err = f.svc.Get(ctx, "u1", trade.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("MissingImageIsNotFatal", func(t *testing.T) {
		f := setupService(t)
		sub := baseSubmission()
		sub.Image = imaging.Result{Data: pngBytes(t, 10, 10), MIMEType: "image/png"}.DataURL()
		trade, err := f.svc.Submit(ctx, "u1", sub)
		require.NoError(t, err)
		require.NoError(t, f.fs.Remove("/trade-screenshots/u1/1710072000000.jpg"))

		assert.NoError(t, f.svc.Delete(ctx, "u1", trade.ID))
	})

	t.Run("OtherOwner", func(t *testing.T) {
		f := setupService(t)
		trade, err := f.svc.Submit(ctx, "u1", baseSubmission())
		require.NoError(t, err)

		assert.ErrorIs(t, f.svc.Delete(ctx, "u2", trade.ID), store.ErrNotFound)
	})
}

func TestStats(t *testing.T) {
	ctx := context.Background()

	t.Run("ComputesOverOwnerTrades", func(t *testing.T) {
		f := setupService(t)
		_, err := f.svc.Submit(ctx, "u1", baseSubmission())
		require.NoError(t, err)
		loss := baseSubmission()
		loss.Result = models.ResultStoppedOut
		loss.ProfitAmount = decimal.NewNullDecimal(decimal.NewFromInt(-50))
		_, err = f.svc.Submit(ctx, "u1", loss)
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, "u2", baseSubmission())
		require.NoError(t, err)

		summary := f.svc.Stats(ctx, "u1", StatsQuery{Period: analytics.PeriodWeek})

		assert.False(t, summary.Degraded)
		assert.Equal(t, 2, summary.TotalTrades)
		assert.Equal(t, 50, summary.WinRate)
		assert.True(t, summary.TotalProfit.Equal(decimal.NewFromInt(70)))
		assert.Equal(t, 2, summary.ThisWeekCount)
	})

	t.Run("DegradesOnStoreFailure", func(t *testing.T) {
		f := setupService(t)
		f.svc.trades = failingStore{err: errors.New("connection reset")}

		summary := f.svc.Stats(ctx, "u1", StatsQuery{})

		assert.True(t, summary.Degraded)
		assert.Equal(t, 0, summary.TotalTrades)
		assert.Equal(t, models.GradeC, summary.AverageGrade)
	})
}
