// Package store persists trades and profiles with gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trade-journal-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no row exists for the given owner and id.
	ErrNotFound = errors.New("record not found")
	// ErrUniqueViolation is returned when a write collides with a unique index.
	ErrUniqueViolation = errors.New("unique constraint violated")
)

// TradeStore is the persistence contract for trade records. Every call is
// scoped to one owner.
type TradeStore interface {
	List(ctx context.Context, ownerID string, filter models.TradeFilter) ([]models.Trade, error)
	Insert(ctx context.Context, trade *models.Trade) error
	Get(ctx context.Context, ownerID, id string) (*models.Trade, error)
	DeleteByID(ctx context.Context, ownerID, id string) (*models.Trade, error)
}

// ProfileStore is the persistence contract for profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	CreateProfile(ctx context.Context, profile *models.Profile) error
	UpdateProfile(ctx context.Context, profile *models.Profile) error
	UsernameExists(ctx context.Context, username, excludeID string) (bool, error)
}

// Store implements TradeStore and ProfileStore on a gorm database.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ TradeStore   = (*Store)(nil)
	_ ProfileStore = (*Store)(nil)
)

// New returns a Store backed by db.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.Named("store"),
		now:    time.Now,
	}
}

// List returns the owner's trades matching filter, newest first. Rows that
// cannot be interpreted are skipped; unknown optional values are cleared.
func (s *Store) List(ctx context.Context, ownerID string, filter models.TradeFilter) ([]models.Trade, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", ownerID)
	if filter.Result != "" {
		q = q.Where("result = ?", filter.Result)
	}
	if filter.Grade != "" {
		q = q.Where("setup_grade = ?", filter.Grade)
	}
	if filter.Session != "" {
		q = q.Where("session = ?", filter.Session)
	}
	if term := strings.TrimSpace(filter.Instrument); term != "" {
		q = q.Where(`LOWER(instrument) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(term))+"%")
	}

	var rows []models.Trade
	if err := q.Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}

	trades := rows[:0]
	for _, t := range rows {
		if !t.Sanitize() {
			s.logger.Warn("Skipping unreadable trade row", zap.String("id", t.ID), zap.String("result", string(t.Result)))
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// Insert assigns the id and creation time and writes the trade.
func (s *Store) Insert(ctx context.Context, trade *models.Trade) error {
	trade.ID = uuid.NewString()
	trade.CreatedAt = s.now().UTC()
	if err := s.db.WithContext(ctx).Create(trade).Error; err != nil {
		return fmt.Errorf("failed to insert trade: %w", translate(err))
	}
	s.logger.Debug("Inserted trade", zap.String("id", trade.ID), zap.String("user_id", trade.UserID))
	return nil
}

// Get returns one trade owned by ownerID.
func (s *Store) Get(ctx context.Context, ownerID, id string) (*models.Trade, error) {
	var trade models.Trade
	err := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", ownerID, id).First(&trade).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %s: %w", id, translate(err))
	}
	trade.Sanitize()
	return &trade, nil
}

// DeleteByID removes one trade and returns it so the caller can release
// anything it references.
func (s *Store) DeleteByID(ctx context.Context, ownerID, id string) (*models.Trade, error) {
	var deleted *models.Trade
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trade models.Trade
		if err := tx.Where("user_id = ? AND id = ?", ownerID, id).First(&trade).Error; err != nil {
			return err
		}
		if err := tx.Delete(&trade).Error; err != nil {
			return err
		}
		deleted = &trade
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete trade %s: %w", id, translate(err))
	}
	return deleted, nil
}

// GetProfile returns the profile for id.
func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", id, translate(err))
	}
	return &p, nil
}

// CreateProfile inserts a new profile row.
func (s *Store) CreateProfile(ctx context.Context, profile *models.Profile) error {
	if err := s.db.WithContext(ctx).Create(profile).Error; err != nil {
		return fmt.Errorf("failed to create profile %s: %w", profile.ID, translate(err))
	}
	return nil
}

// UpdateProfile writes every column of profile.
func (s *Store) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	if err := s.db.WithContext(ctx).Save(profile).Error; err != nil {
		return fmt.Errorf("failed to update profile %s: %w", profile.ID, translate(err))
	}
	return nil
}

// UsernameExists reports whether a profile other than excludeID holds username,
// compared case-insensitively.
func (s *Store) UsernameExists(ctx context.Context, username, excludeID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Profile{}).
		Where("LOWER(username) = ? AND id <> ?", strings.ToLower(username), excludeID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return count > 0, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrUniqueViolation
	}
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
