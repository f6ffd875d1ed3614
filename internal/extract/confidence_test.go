package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulatorStartsHigh(t *testing.T) {
	var acc Accumulator
	assert.Equal(t, ConfidenceHigh, acc.Level())
}

func TestAccumulatorNeverUpgrades(t *testing.T) {
	var acc Accumulator
	acc.Downgrade(ConfidenceLow)
	acc.Downgrade(ConfidenceMedium)
	acc.Downgrade(ConfidenceHigh)
	assert.Equal(t, ConfidenceLow, acc.Level())
}

func TestAccumulatorIgnoresUnknown(t *testing.T) {
	var acc Accumulator
	acc.Downgrade(ConfidenceMedium)
	acc.Downgrade(Confidence("bogus"))
	assert.Equal(t, ConfidenceMedium, acc.Level())
}

func TestConfidenceOrder(t *testing.T) {
	assert.True(t, ConfidenceLow.Below(ConfidenceMedium))
	assert.True(t, ConfidenceMedium.Below(ConfidenceHigh))
	assert.False(t, ConfidenceHigh.Below(ConfidenceHigh))
	assert.False(t, Confidence("").Valid())
}
