package extract

// Confidence expresses trust in a parsed or matched record.
// Ordered high > medium > low; low routes the record to human review.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether c is one of the three known levels.
func (c Confidence) Valid() bool {
	return c.rank() > 0
}

// Below reports whether c is strictly less trusted than other.
func (c Confidence) Below(other Confidence) bool {
	return c.rank() < other.rank()
}

// Accumulator holds a confidence level that can only go down.
// The zero value starts at high.
type Accumulator struct {
	level Confidence
}

// Downgrade lowers the level to c if c is lower; it never raises it.
// Unknown levels are ignored.
func (a *Accumulator) Downgrade(c Confidence) {
	if !c.Valid() {
		return
	}
	if c.Below(a.Level()) {
		a.level = c
	}
}

// Level returns the current level.
func (a *Accumulator) Level() Confidence {
	if a.level == "" {
		return ConfidenceHigh
	}
	return a.level
}
