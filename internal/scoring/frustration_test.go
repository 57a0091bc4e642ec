package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadlineFrustration(t *testing.T) {
	tests := []struct {
		name      string
		avg, peak float64
		frequency float64
		want      float64
	}{
		{"extreme peak dominates", 2, 9, 0.1, 8},
		{"high peak floors at five", 1, 7, 0.1, 5},
		{"frequent frustration", 4, 6, 0.6, 5},
		{"moderate frequency", 3, 6, 0.3, 4},
		{"isolated medium peak floors at three", 1, 5, 0.1, 3},
		{"calm case is the average", 1.4, 3, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HeadlineFrustration(tt.avg, tt.peak, tt.frequency))
		})
	}
}

func TestMetrics(t *testing.T) {
	_, ok := Metrics(nil)
	require.False(t, ok)

	m, ok := Metrics([]float64{1, 2, 7, 4})
	require.True(t, ok)
	assert.InDelta(t, 3.5, m.Average, 0.001)
	assert.Equal(t, 7.0, m.Peak)
	assert.Equal(t, 2, m.FrustratedMsgs)
	assert.InDelta(t, 50, m.FrustratedPct, 0.001)
	// peak 7: max(5, 4.2 + 1.4) = 5.6 -> 6
	assert.Equal(t, 6.0, m.Headline)
}
