package session

import (
	"math"
	"time"
)

// GrossWPM is raw character throughput in standard five-character words
// per minute.
func GrossWPM(typedChars int, elapsed time.Duration) float64 {
	minutes := elapsed.Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(typedChars) / 5.0 / minutes
}

// NetWPM is gross WPM with errors deducted, floored at zero
func NetWPM(typedChars, errors int, elapsed time.Duration) float64 {
	minutes := elapsed.Minutes()
	if minutes <= 0 {
		return 0
	}
	net := (float64(typedChars) - float64(errors)) / 5.0 / minutes
	if net < 0 {
		return 0
	}
	return net
}

// Accuracy is the fraction of typed characters that were correct, as a
// percentage. Nothing typed counts as perfect.
func Accuracy(typedChars, errors int) float64 {
	if typedChars <= 0 {
		return 100
	}
	correct := typedChars - errors
	if correct < 0 {
		correct = 0
	}
	return float64(correct) / float64(typedChars) * 100
}

// FinalScore folds net WPM and accuracy into the integer ranking score
func FinalScore(netWPM, accuracy float64) int64 {
	return int64(math.Round(netWPM * (accuracy / 100) * 10))
}
