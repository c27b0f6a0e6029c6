package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	maxInstrumentLength = 20
	maxNotesLength      = 5000
)

// Trade represents one logged trade in the journal.
// Enumerated fields use the empty string for "unset".
type Trade struct {
	ID            string              `gorm:"primaryKey;size:36" json:"id"`
	UserID        string              `gorm:"index;not null" json:"user_id"`
	Instrument    string              `gorm:"size:20;not null" json:"instrument"`
	Timeframe     Timeframe           `gorm:"size:4" json:"timeframe"`
	Direction     Direction           `gorm:"size:8" json:"direction,omitempty"`
	Result        Result              `gorm:"size:16;not null;index" json:"result"`
	Session       Session             `gorm:"size:16" json:"session,omitempty"`
	SetupGrade    Grade               `gorm:"size:2" json:"setup_grade,omitempty"`
	AIConfidence  *int                `json:"ai_confidence"`
	AIReasoning   *string             `json:"ai_reasoning"`
	OverlayEntryX *float64            `json:"overlay_entry_x"`
	OverlayEntryY *float64            `json:"overlay_entry_y"`
	OpenTime      time.Time           `gorm:"index" json:"open_time"`
	CloseTime     time.Time           `json:"close_time"`
	ImageURL      string              `json:"image_url"`
	Notes         *string             `json:"notes"`
	ProfitAmount  decimal.NullDecimal `gorm:"type:numeric" json:"profit_amount"`
	CreatedAt     time.Time           `gorm:"autoCreateTime:false;index" json:"created_at"`
}

// ValidationError reports a trade or profile field that violates the schema.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the record invariants: required fields, enumerations,
// overlay coordinate range and the profit sign agreeing with the result.
func (t *Trade) Validate() error {
	instrument := strings.TrimSpace(t.Instrument)
	if instrument == "" {
		return invalid("instrument", "is required")
	}
	if len(instrument) > maxInstrumentLength {
		return invalid("instrument", "must be at most %d characters", maxInstrumentLength)
	}
	if !t.Result.Valid() {
		return invalid("result", "unknown value %q", t.Result)
	}
	if t.Timeframe != "" && !t.Timeframe.Valid() {
		return invalid("timeframe", "unknown value %q", t.Timeframe)
	}
	if t.Direction != "" && !t.Direction.Valid() {
		return invalid("direction", "unknown value %q", t.Direction)
	}
	if t.Session != "" && !t.Session.Valid() {
		return invalid("session", "unknown value %q", t.Session)
	}
	if t.SetupGrade != "" && !t.SetupGrade.Valid() {
		return invalid("setup_grade", "unknown value %q", t.SetupGrade)
	}
	if t.Notes != nil && len(*t.Notes) > maxNotesLength {
		return invalid("notes", "must be at most %d characters", maxNotesLength)
	}
	if !inPercentRange(t.OverlayEntryX) || !inPercentRange(t.OverlayEntryY) {
		return invalid("entry_coordinate", "must be within 0-100")
	}
	if t.AIConfidence != nil && (*t.AIConfidence < 1 || *t.AIConfidence > 100) {
		return invalid("ai_confidence", "must be within 1-100")
	}
	if t.OpenTime.IsZero() {
		return invalid("open_time", "is required")
	}
	if !t.CloseTime.IsZero() && t.CloseTime.Before(t.OpenTime) {
		return invalid("close_time", "must not be before open_time")
	}
	return t.validateProfitSign()
}

func (t *Trade) validateProfitSign() error {
	if !t.ProfitAmount.Valid {
		return nil
	}
	sign := t.ProfitAmount.Decimal.Sign()
	switch t.Result {
	case ResultTakeProfit:
		if sign <= 0 {
			return invalid("profit_amount", "must be positive for take_profit")
		}
	case ResultStoppedOut:
		if sign >= 0 {
			return invalid("profit_amount", "must be negative for stopped_out")
		}
	case ResultBreakEven:
		if sign != 0 {
			return invalid("profit_amount", "must be zero for break_even")
		}
	}
	return nil
}

// Sanitize nulls out fields a stored row carries outside the schema and reports
// whether the record is still usable. A row with an unknown result is not.
func (t *Trade) Sanitize() bool {
	if !t.Result.Valid() {
		return false
	}
	if !t.SetupGrade.Valid() {
		t.SetupGrade = ""
	}
	if !t.Session.Valid() {
		t.Session = ""
	}
	if !t.Direction.Valid() {
		t.Direction = ""
	}
	if !t.Timeframe.Valid() {
		t.Timeframe = ""
	}
	if !inPercentRange(t.OverlayEntryX) || !inPercentRange(t.OverlayEntryY) {
		t.OverlayEntryX, t.OverlayEntryY = nil, nil
	}
	if t.AIConfidence != nil && (*t.AIConfidence < 1 || *t.AIConfidence > 100) {
		t.AIConfidence = nil
	}
	if t.ProfitAmount.Valid && t.validateProfitSign() != nil {
		t.ProfitAmount = decimal.NullDecimal{}
	}
	return true
}

// IsWin reports whether the trade hit its target.
func (t Trade) IsWin() bool {
	return t.Result == ResultTakeProfit
}

func inPercentRange(v *float64) bool {
	return v == nil || (*v >= 0 && *v <= 100)
}

// TradeFilter narrows a trade list the way the journal view does: exact
// matches on result, grade and session, case-insensitive substring on instrument.
type TradeFilter struct {
	Result     Result
	Grade      Grade
	Instrument string
	Session    Session
}

// IsZero reports whether the filter matches everything.
func (f TradeFilter) IsZero() bool {
	return f == TradeFilter{}
}

// Validate rejects enum criteria that no trade could match.
func (f TradeFilter) Validate() error {
	switch {
	case f.Result != "" && !f.Result.Valid():
		return &ValidationError{Field: "result", Message: fmt.Sprintf("unknown value %q", f.Result)}
	case f.Grade != "" && !f.Grade.Valid():
		return &ValidationError{Field: "grade", Message: fmt.Sprintf("unknown value %q", f.Grade)}
	case f.Session != "" && !f.Session.Valid():
		return &ValidationError{Field: "session", Message: fmt.Sprintf("unknown value %q", f.Session)}
	}
	return nil
}

// Matches reports whether t passes every set criterion.
func (f TradeFilter) Matches(t Trade) bool {
	if f.Result != "" && t.Result != f.Result {
		return false
	}
	if f.Grade != "" && t.SetupGrade != f.Grade {
		return false
	}
	if f.Session != "" && t.Session != f.Session {
		return false
	}
	if f.Instrument != "" &&
		!strings.Contains(strings.ToLower(t.Instrument), strings.ToLower(f.Instrument)) {
		return false
	}
	return true
}
