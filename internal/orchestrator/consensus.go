package orchestrator

import (
	"unicode/utf8"

	"github.com/kemerova/argus/internal/gateway"
)

// Consensus scores agreement between responses by how similar their lengths
// in characters are: 1 - variance/(0.5*mean), clamped to [0, 1]. No responses score 0.
func Consensus(responses []gateway.Response) float64 {
	if len(responses) == 0 {
		return 0
	}

	n := float64(len(responses))
	var sum float64
	for _, r := range responses {
		sum += float64(utf8.RuneCountInString(r.Content))
	}
	avg := sum / n

	var variance float64
	for _, r := range responses {
		d := float64(utf8.RuneCountInString(r.Content)) - avg
		variance += d * d
	}
	variance /= n

	// All responses empty: identical lengths.
	if variance == 0 {
		return 1
	}

	maxVariance := avg * 0.5
	return min(1, max(0, 1-variance/maxVariance))
}
