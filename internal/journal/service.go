// Package journal implements the trade workflows: grading a screenshot,
// logging a trade, browsing and deleting trades, and the statistics view.
package journal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"trade-journal-go/internal/analytics"
	"trade-journal-go/internal/blobstore"
	"trade-journal-go/internal/extractor"
	"trade-journal-go/internal/imaging"
	"trade-journal-go/internal/models"
	"trade-journal-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Analyzer sends a normalized chart image to the model.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (string, error)
}

// BlobStore keeps trade screenshots.
type BlobStore interface {
	Put(ctx context.Context, bucket, key string, data []byte) (string, error)
	Remove(ctx context.Context, url string) error
}

// Service coordinates the journal workflows.
type Service struct {
	trades     store.TradeStore
	blobs      BlobStore
	analyzer   Analyzer
	normalizer *imaging.Normalizer
	logger     *zap.Logger
	now        func() time.Time
}

// NewService returns a journal Service.
func NewService(trades store.TradeStore, blobs BlobStore, analyzer Analyzer, normalizer *imaging.Normalizer, logger *zap.Logger) *Service {
	return &Service{
		trades:     trades,
		blobs:      blobs,
		analyzer:   analyzer,
		normalizer: normalizer,
		logger:     logger.Named("journal"),
		now:        time.Now,
	}
}

// AnalyzeOutcome is the graded analysis plus the image that was graded, as
// a data URL the client can submit back with the trade.
type AnalyzeOutcome struct {
	Analysis *extractor.Analysis `json:"analysis"`
	Image    string              `json:"image"`
	Width    int                 `json:"width,omitempty"`
	Height   int                 `json:"height,omitempty"`
}

// Submission is a new trade as entered by the user.
type Submission struct {
	Instrument   string              `json:"instrument"`
	Timeframe    models.Timeframe    `json:"timeframe"`
	Direction    models.Direction    `json:"direction"`
	Result       models.Result       `json:"result"`
	Session      models.Session      `json:"session"`
	SetupGrade   models.Grade        `json:"setup_grade"`
	OpenTime     time.Time           `json:"open_time"`
	CloseTime    time.Time           `json:"close_time"`
	Notes        *string             `json:"notes"`
	ProfitAmount decimal.NullDecimal `json:"profit_amount"`
	// Image is an optional base64 data URL of the chart.
	Image    string              `json:"image"`
	Analysis *extractor.Analysis `json:"analysis"`
}

// StatsQuery selects the trades a statistics view covers.
type StatsQuery struct {
	Period   analytics.Period
	Filter   models.TradeFilter
	Location *time.Location
}

// Analyze normalizes the screenshot, has the model grade it and extracts the
// structured analysis. Extraction failures match extractor.ErrExtraction.
func (s *Service) Analyze(ctx context.Context, raw []byte) (*AnalyzeOutcome, error) {
	if len(raw) == 0 {
		return nil, &models.ValidationError{Field: "image", Message: "is required"}
	}

	img := s.normalizer.Normalize(raw)
	completion, err := s.analyzer.Analyze(ctx, img.Data, img.MIMEType)
	if err != nil {
		return nil, err
	}

	analysis, err := extractor.Extract(completion)
	if err != nil {
		s.logger.Warn("Model reply did not contain a usable analysis",
			zap.Error(err),
			zap.String("reply_prefix", prefix(completion, 200)),
		)
		return nil, fmt.Errorf("failed to extract analysis: %w", err)
	}

	return &AnalyzeOutcome{
		Analysis: analysis,
		Image:    img.DataURL(),
		Width:    img.Width,
		Height:   img.Height,
	}, nil
}

// Submit validates and stores a new trade for ownerID. A submitted analysis
// that fails validation is dropped rather than rejecting the trade.
func (s *Service) Submit(ctx context.Context, ownerID string, sub Submission) (*models.Trade, error) {
	trade := &models.Trade{
		UserID:       ownerID,
		Instrument:   strings.TrimSpace(sub.Instrument),
		Timeframe:    sub.Timeframe,
		Direction:    sub.Direction,
		Result:       sub.Result,
		Session:      sub.Session,
		SetupGrade:   sub.SetupGrade,
		OpenTime:     sub.OpenTime.UTC(),
		Notes:        sub.Notes,
		ProfitAmount: sub.ProfitAmount,
	}
	if !sub.CloseTime.IsZero() {
		trade.CloseTime = sub.CloseTime.UTC()
	}

	if sub.Analysis != nil {
		if err := extractor.Validate(sub.Analysis); err != nil {
			s.logger.Warn("Dropping invalid analysis from submission", zap.String("user_id", ownerID), zap.Error(err))
		} else {
			applyAnalysis(trade, sub.Analysis)
		}
	}
	if trade.SetupGrade == "" {
		trade.SetupGrade = models.GradeC
	}

	if err := trade.Validate(); err != nil {
		return nil, err
	}

	if sub.Image != "" {
		url, err := s.storeImage(ctx, ownerID, sub.Image)
		if err != nil {
			return nil, err
		}
		trade.ImageURL = url
	}

	if err := s.trades.Insert(ctx, trade); err != nil {
		if trade.ImageURL != "" {
			if rmErr := s.blobs.Remove(ctx, trade.ImageURL); rmErr != nil {
				s.logger.Error("Failed to remove image of unsaved trade", zap.String("url", trade.ImageURL), zap.Error(rmErr))
			}
		}
		return nil, err
	}

	s.logger.Info("Trade logged",
		zap.String("id", trade.ID),
		zap.String("user_id", ownerID),
		zap.String("instrument", trade.Instrument),
		zap.String("result", string(trade.Result)),
	)
	return trade, nil
}

// List returns the owner's trades matching filter, newest first.
func (s *Service) List(ctx context.Context, ownerID string, filter models.TradeFilter) ([]models.Trade, error) {
	return s.trades.List(ctx, ownerID, filter)
}

// Get returns one trade.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*models.Trade, error) {
	return s.trades.Get(ctx, ownerID, id)
}

// Delete removes a trade and releases its screenshot. A screenshot that is
// already gone does not fail the delete.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	trade, err := s.trades.DeleteByID(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if trade.ImageURL == "" {
		return nil
	}

	if err := s.blobs.Remove(ctx, trade.ImageURL); err != nil {
		if errors.Is(err, blobstore.ErrNotFound) || errors.Is(err, blobstore.ErrForeignURL) {
			s.logger.Warn("Screenshot of deleted trade not found", zap.String("id", id), zap.String("url", trade.ImageURL))
		} else {
			s.logger.Error("Failed to remove screenshot of deleted trade", zap.String("id", id), zap.Error(err))
		}
	}
	return nil
}

// Stats computes the analytics summary for the owner. It never fails: when
// the store cannot be read the summary covers no trades and is marked degraded.
func (s *Service) Stats(ctx context.Context, ownerID string, q StatsQuery) analytics.Summary {
	opts := analytics.Options{
		Period:   q.Period,
		Filter:   q.Filter,
		Now:      s.now(),
		Location: q.Location,
	}

	trades, err := s.trades.List(ctx, ownerID, models.TradeFilter{})
	if err != nil {
		s.logger.Warn("Failed to load trades for statistics", zap.String("user_id", ownerID), zap.Error(err))
		summary := analytics.Compute(nil, opts)
		summary.Degraded = true
		return summary
	}
	return analytics.Compute(trades, opts)
}

func (s *Service) storeImage(ctx context.Context, ownerID, dataURL string) (string, error) {
	data, mime, err := imaging.ParseDataURL(dataURL)
	if err != nil {
		return "", &models.ValidationError{Field: "image", Message: err.Error()}
	}
	if _, ok := imageExtensions[mime]; !ok {
		return "", &models.ValidationError{Field: "image", Message: fmt.Sprintf("unsupported type %q", mime)}
	}

	// Extension follows the normalized output, not the declared type.
	res := s.normalizer.Normalize(data)
	ext, ok := imageExtensions[res.MIMEType]
	if !ok {
		return "", &models.ValidationError{Field: "image", Message: fmt.Sprintf("content is not a supported image (%s)", res.MIMEType)}
	}

	key := fmt.Sprintf("%s/%d.%s", ownerID, s.now().UnixMilli(), ext)
	url, err := s.blobs.Put(ctx, blobstore.BucketScreenshots, key, res.Data)
	if err != nil {
		return "", fmt.Errorf("failed to store screenshot: %w", err)
	}
	return url, nil
}

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

func applyAnalysis(t *models.Trade, a *extractor.Analysis) {
	confidence := int(math.Round(*a.Confidence))
	reasoning := a.Reasoning
	x, y := *a.EntryCoordinate.X, *a.EntryCoordinate.Y

	t.AIConfidence = &confidence
	t.AIReasoning = &reasoning
	t.OverlayEntryX = &x
	t.OverlayEntryY = &y
	if t.SetupGrade == "" {
		t.SetupGrade = a.SetupGrade
	}
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
