package models

// Grade is the discrete quality rating of a trade setup, A+ best and C worst.
type Grade string

const (
	GradeAPlus  Grade = "A+"
	GradeA      Grade = "A"
	GradeAMinus Grade = "A-"
	GradeB      Grade = "B"
	GradeC      Grade = "C"
)

// Grades lists every grade, best first.
var Grades = []Grade{GradeAPlus, GradeA, GradeAMinus, GradeB, GradeC}

// Valid reports whether g is one of the five grades.
func (g Grade) Valid() bool {
	return g.Score() > 0
}

// Score maps a grade to its numeric weight, 0 for unknown grades.
func (g Grade) Score() int {
	switch g {
	case GradeAPlus:
		return 5
	case GradeA:
		return 4
	case GradeAMinus:
		return 3
	case GradeB:
		return 2
	case GradeC:
		return 1
	}
	return 0
}

// GradeFromScore buckets an average score back into a grade label.
func GradeFromScore(avg float64) Grade {
	switch {
	case avg >= 4.5:
		return GradeAPlus
	case avg >= 3.5:
		return GradeA
	case avg >= 2.5:
		return GradeAMinus
	case avg >= 1.5:
		return GradeB
	default:
		return GradeC
	}
}

// Result is the outcome of a closed trade.
type Result string

const (
	ResultTakeProfit Result = "take_profit"
	ResultStoppedOut Result = "stopped_out"
	ResultBreakEven  Result = "break_even"
)

// Results lists every result.
var Results = []Result{ResultTakeProfit, ResultStoppedOut, ResultBreakEven}

func (r Result) Valid() bool {
	switch r {
	case ResultTakeProfit, ResultStoppedOut, ResultBreakEven:
		return true
	}
	return false
}

// Session is a named trading-hours window.
type Session string

const (
	SessionNewYorkAM Session = "new_york_am"
	SessionNewYorkPM Session = "new_york_pm"
	SessionLondon    Session = "london"
	SessionAsia      Session = "asia"
)

// Sessions lists every session.
var Sessions = []Session{SessionNewYorkAM, SessionNewYorkPM, SessionLondon, SessionAsia}

func (s Session) Valid() bool {
	switch s {
	case SessionNewYorkAM, SessionNewYorkPM, SessionLondon, SessionAsia:
		return true
	}
	return false
}

// Direction is the side of a trade.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Timeframe is the chart timeframe a trade was taken on.
type Timeframe string

// Timeframes lists the accepted chart timeframes.
var Timeframes = []Timeframe{"1m", "5m", "15m", "1h", "4h", "D", "W", "M"}

func (tf Timeframe) Valid() bool {
	for _, known := range Timeframes {
		if tf == known {
			return true
		}
	}
	return false
}
