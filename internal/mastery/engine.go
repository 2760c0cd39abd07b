// Package mastery turns review answers into updated mastery state on a
// fixed 0.0-5.0 scale, following the spaced-repetition approach of
// SuperMemo: bounded score moves, an interval ladder that grows with
// consecutive correct answers, and a Leitner-style reset on failure.
package mastery

import (
	"time"

	"github.com/example/lingpoint/pkg/models"
)

// Tier buckets a mastery level for display and filtering.
type Tier string

const (
	TierWeak   Tier = "weak"   // [0.0, 1.5)
	TierMedium Tier = "medium" // [1.5, 3.5)
	TierStrong Tier = "strong" // [3.5, 5.0]
)

// Mastery scale bounds.
const (
	MinLevel = 0.0
	MaxLevel = 5.0
)

// TierFor maps a mastery level to its tier.
func TierFor(level float64) Tier {
	switch {
	case level < 1.5:
		return TierWeak
	case level < 3.5:
		return TierMedium
	default:
		return TierStrong
	}
}

// Engine holds the tunable parameters of the mastery state machine.
type Engine struct {
	// Score gained on a correct answer
	CorrectStep float64
	// Score lost per severity on an incorrect answer
	Penalties map[models.Severity]float64
	// Review intervals in days, indexed by consecutive correct answers
	InitialIntervals []int
	// Maximum interval between reviews in days
	MaxIntervalDays int
	// Interval after an incorrect answer in days
	RetryIntervalDays int
}

// NewEngine returns an engine with the default parameters.
func NewEngine() *Engine {
	return &Engine{
		CorrectStep: 0.5,
		Penalties: map[models.Severity]float64{
			models.SeverityLow:      0.5,
			models.SeverityMedium:   0.75,
			models.SeverityHigh:     1.0,
			models.SeverityCritical: 1.5,
		},
		InitialIntervals:  []int{1, 2, 4, 7, 15, 30, 60, 120, 240},
		MaxIntervalDays:   365,
		RetryIntervalDays: 1,
	}
}

// ApplyOutcome returns the point with its mastery state advanced by one
// review answer. It is pure over (point, outcome, now): the caller
// supplies "now" and the input point is not modified.
//
// An empty severity on an incorrect answer is treated as medium.
func (e *Engine) ApplyOutcome(p models.KnowledgePoint, wasCorrect bool, severity models.Severity, now time.Time) models.KnowledgePoint {
	if wasCorrect {
		p.CorrectCount++
		p.ConsecutiveCorrect++
		p.MasteryLevel = clamp(p.MasteryLevel + e.CorrectStep)

		next := now.AddDate(0, 0, e.nextIntervalDays(p.ConsecutiveCorrect))
		p.NextReviewDate = &next
	} else {
		p.MistakeCount++
		p.ConsecutiveCorrect = 0
		p.MasteryLevel = clamp(p.MasteryLevel - e.penalty(severity))

		// Failed points come back quickly, regardless of how far
		// out they were scheduled.
		next := now.AddDate(0, 0, e.RetryIntervalDays)
		p.NextReviewDate = &next
	}

	p.UpdatedAt = now
	return p
}

// nextIntervalDays picks the review interval for the given streak of
// consecutive correct answers. The ladder covers early repetitions;
// past its end each further answer doubles the interval up to the cap.
func (e *Engine) nextIntervalDays(consecutive int) int {
	if consecutive <= 0 {
		return e.RetryIntervalDays
	}
	if consecutive <= len(e.InitialIntervals) {
		return e.InitialIntervals[consecutive-1]
	}

	interval := e.InitialIntervals[len(e.InitialIntervals)-1]
	for i := len(e.InitialIntervals); i < consecutive; i++ {
		interval *= 2
		if interval >= e.MaxIntervalDays {
			return e.MaxIntervalDays
		}
	}
	return interval
}

func (e *Engine) penalty(severity models.Severity) float64 {
	if p, ok := e.Penalties[severity]; ok {
		return p
	}
	return e.Penalties[models.SeverityMedium]
}

func clamp(level float64) float64 {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
