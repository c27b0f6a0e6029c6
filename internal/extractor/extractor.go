// Package extractor pulls the structured chart analysis out of a free-text
// model completion and validates it against the analysis schema.
package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"trade-journal-go/internal/models"

	"github.com/go-playground/validator/v10"
)

// ErrExtraction matches every *ExtractionError via errors.Is.
var ErrExtraction = errors.New("analysis extraction failed")

// Kind classifies why extraction failed.
type Kind string

const (
	KindNoJSON    Kind = "no_json"
	KindMalformed Kind = "malformed"
	KindInvalid   Kind = "invalid"
)

// ExtractionError is returned when a completion does not carry a usable analysis.
type ExtractionError struct {
	Kind Kind
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrExtraction, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", ErrExtraction, e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// Coordinate is a point in percentage space, 0-100 on both axes.
type Coordinate struct {
	X *float64 `json:"x" validate:"required,min=0,max=100"`
	Y *float64 `json:"y" validate:"required,min=0,max=100"`
}

// Analysis is the structured result of grading a chart screenshot.
type Analysis struct {
	MarketBias        string       `json:"market_bias" validate:"required,oneof=bullish bearish neutral"`
	ConfluenceFactors []string     `json:"confluence_factors" validate:"required"`
	SetupGrade        models.Grade `json:"setup_grade" validate:"required,grade"`
	Confidence        *float64     `json:"confidence" validate:"required,min=1,max=100"`
	EntryCoordinate   *Coordinate  `json:"entry_coordinate"`
	Reasoning         string       `json:"reasoning" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("grade", func(fl validator.FieldLevel) bool {
		return models.Grade(fl.Field().String()).Valid()
	})
	return v
}

// Extract locates the first JSON object in raw, decodes it and validates it.
func Extract(raw string) (*Analysis, error) {
	candidate, ok := locateObject(raw)
	if !ok {
		return nil, &ExtractionError{Kind: KindNoJSON}
	}

	var a Analysis
	if err := json.Unmarshal([]byte(candidate), &a); err != nil {
		return nil, &ExtractionError{Kind: KindMalformed, Err: err}
	}
	if err := Validate(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks an analysis against the schema. It is also applied to
// analyses clients send back with a trade submission.
func Validate(a *Analysis) error {
	if a == nil {
		return &ExtractionError{Kind: KindInvalid, Err: errors.New("analysis is empty")}
	}
	if a.EntryCoordinate == nil {
		return &ExtractionError{Kind: KindInvalid, Err: errors.New("entry_coordinate is required")}
	}
	if err := validate.Struct(a); err != nil {
		return &ExtractionError{Kind: KindInvalid, Err: err}
	}
	return nil
}

// locateObject returns the text from the first '{' to the brace that closes
// it, skipping braces inside strings. When the braces never balance it falls
// back to the last '}' in the text.
func locateObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}

	end := strings.LastIndexByte(raw, '}')
	if end <= start {
		return "", false
	}
	return raw[start : end+1], true
}
