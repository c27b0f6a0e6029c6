package extractor

import (
	"errors"
	"testing"

	"trade-journal-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validObject = `{"market_bias":"bullish","confluence_factors":["liquidity sweep","FVG entry {retest}"],` +
	`"setup_grade":"A-","confidence":72,"entry_coordinate":{"x":41.5,"y":63},"reasoning":"Clean sweep, weak displacement."}`

func TestExtract(t *testing.T) {
	t.Run("Embedded in prose", func(t *testing.T) {
		raw := "here is json: " + validObject + "\nLet me know if you need more {details}."

		a, err := Extract(raw)

		require.NoError(t, err)
		assert.Equal(t, "bullish", a.MarketBias)
		assert.Equal(t, models.GradeAMinus, a.SetupGrade)
		assert.Equal(t, []string{"liquidity sweep", "FVG entry {retest}"}, a.ConfluenceFactors)
		require.NotNil(t, a.Confidence)
		assert.Equal(t, 72.0, *a.Confidence)
		require.NotNil(t, a.EntryCoordinate)
		assert.Equal(t, 41.5, *a.EntryCoordinate.X)
		assert.Equal(t, "Clean sweep, weak displacement.", a.Reasoning)
	})

	t.Run("Markdown fence", func(t *testing.T) {
		a, err := Extract("```json\n" + validObject + "\n```")
		require.NoError(t, err)
		assert.Equal(t, models.GradeAMinus, a.SetupGrade)
	})

	t.Run("Zero coordinate is present", func(t *testing.T) {
		raw := `{"market_bias":"neutral","confluence_factors":[],"setup_grade":"C","confidence":1,` +
			`"entry_coordinate":{"x":0,"y":100},"reasoning":"Nothing lines up."}`
		a, err := Extract(raw)
		require.NoError(t, err)
		assert.Equal(t, 0.0, *a.EntryCoordinate.X)
		assert.Empty(t, a.ConfluenceFactors)
	})
}

func TestExtractFailures(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		wantKind Kind
	}{
		{name: "No braces", raw: "I could not read this chart.", wantKind: KindNoJSON},
		{name: "Only closing brace before opening", raw: "} oops {", wantKind: KindNoJSON},
		{name: "Not JSON", raw: "{market_bias: bullish}", wantKind: KindMalformed},
		{name: "Missing grade", raw: `{"market_bias":"bullish","confluence_factors":[],"confidence":50,` +
			`"entry_coordinate":{"x":1,"y":1},"reasoning":"r"}`, wantKind: KindInvalid},
		{name: "Unknown grade", raw: `{"market_bias":"bullish","confluence_factors":[],"setup_grade":"S",` +
			`"confidence":50,"entry_coordinate":{"x":1,"y":1},"reasoning":"r"}`, wantKind: KindInvalid},
		{name: "Unknown bias", raw: `{"market_bias":"sideways","confluence_factors":[],"setup_grade":"B",` +
			`"confidence":50,"entry_coordinate":{"x":1,"y":1},"reasoning":"r"}`, wantKind: KindInvalid},
		{name: "Confidence out of range", raw: `{"market_bias":"bullish","confluence_factors":[],"setup_grade":"B",` +
			`"confidence":0,"entry_coordinate":{"x":1,"y":1},"reasoning":"r"}`, wantKind: KindInvalid},
		{name: "Missing coordinate", raw: `{"market_bias":"bullish","confluence_factors":[],"setup_grade":"B",` +
			`"confidence":50,"reasoning":"r"}`, wantKind: KindInvalid},
		{name: "Coordinate out of range", raw: `{"market_bias":"bullish","confluence_factors":[],"setup_grade":"B",` +
			`"confidence":50,"entry_coordinate":{"x":101,"y":1},"reasoning":"r"}`, wantKind: KindInvalid},
		{name: "Missing factors", raw: `{"market_bias":"bullish","setup_grade":"B",` +
			`"confidence":50,"entry_coordinate":{"x":1,"y":1},"reasoning":"r"}`, wantKind: KindInvalid},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := Extract(tc.raw)

			assert.Nil(t, a)
			assert.True(t, errors.Is(err, ErrExtraction))
			var extErr *ExtractionError
			require.True(t, errors.As(err, &extErr))
			assert.Equal(t, tc.wantKind, extErr.Kind)
		})
	}
}

func TestLocateObject(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{name: "Balanced", raw: `a {"k":{"n":1}} b {"z":2}`, want: `{"k":{"n":1}}`, ok: true},
		{name: "Brace in string", raw: `x {"k":"}"} y`, want: `{"k":"}"}`, ok: true},
		{name: "Escaped quote", raw: `{"k":"a\"}"}`, want: `{"k":"a\"}"}`, ok: true},
		{name: "Unterminated string falls back to last brace", raw: `{"a":"open} tail } end`, want: `{"a":"open} tail }`, ok: true},
		{name: "Unclosed", raw: `{"a":1`, ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := locateObject(tc.raw)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidateNil(t *testing.T) {
	assert.ErrorIs(t, Validate(nil), ErrExtraction)
}
