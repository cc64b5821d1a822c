// Package status maps a measured or forecast value onto a verdict.
package status

import "gassentry/internal/model"

// Classify returns SAFE for value <= safe, WARNING for value <= warning and
// DANGER otherwise. NaN compares false everywhere and lands on DANGER.
func Classify(value, safe, warning float64) model.Verdict {
	if value <= safe {
		return model.VerdictSafe
	}
	if value <= warning {
		return model.VerdictWarning
	}
	return model.VerdictDanger
}

// ClassifySet is Classify against a threshold pair.
func ClassifySet(value float64, th model.ThresholdSet) model.Verdict {
	return Classify(value, th.Safe, th.Warning)
}
