package models

import "time"

// Origin tells which store authored a knowledge point.
type Origin string

const (
	// OriginLocal marks a guest point created without authentication,
	// persisted on-device and pending promotion to the remote store.
	OriginLocal Origin = "local"
	// OriginRemote marks a point owned by the remote store.
	OriginRemote Origin = "remote"
)

// Severity grades how bad a mistake was. It scales the mastery
// penalty on an incorrect review answer.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// LocalPendingSyncNotes is the legacy marker older clients wrote into
// the AI review notes of guest points. New records carry Origin instead,
// but the marker is still written and cleared for those clients.
const LocalPendingSyncNotes = "Saved locally. Will sync when you sign in."

// KnowledgePoint is an atomic unit of a recorded mistake and its
// corrected form, tracked over time via a mastery score and a review
// schedule. Identity may be any of: a composite ID (current schema),
// a legacy numeric ID, an ancient numeric ID, or nothing at all for
// guest points. Resolution order lives in the identity package.
type KnowledgePoint struct {
	Composite *CompositeID `json:"composite_id,omitempty" db:"-"`
	LegacyID  *int64       `json:"legacy_id,omitempty" db:"legacy_id"`
	AncientID *int64       `json:"ancient_id,omitempty" db:"ancient_id"`

	Category                 string `json:"category" db:"category"`
	Subcategory              string `json:"subcategory" db:"subcategory"`
	CorrectPhrase            string `json:"correct_phrase" db:"correct_phrase"`
	Explanation              string `json:"explanation,omitempty" db:"explanation"`
	UserContextSentence      string `json:"user_context_sentence,omitempty" db:"user_context_sentence"`
	IncorrectPhraseInContext string `json:"incorrect_phrase_in_context,omitempty" db:"incorrect_phrase_in_context"`
	KeyPointSummary          string `json:"key_point_summary,omitempty" db:"key_point_summary"`

	MasteryLevel       float64    `json:"mastery_level" db:"mastery_level"` // 0.0-5.0 scale
	MistakeCount       int        `json:"mistake_count" db:"mistake_count"`
	CorrectCount       int        `json:"correct_count" db:"correct_count"`
	ConsecutiveCorrect int        `json:"consecutive_correct" db:"consecutive_correct"` // drives the review interval
	NextReviewDate     *time.Time `json:"next_review_date,omitempty" db:"next_review_date"`
	LastAIReviewDate   *time.Time `json:"last_ai_review_date,omitempty" db:"last_ai_review_date"`
	AIReviewNotes      string     `json:"ai_review_notes,omitempty" db:"ai_review_notes"`

	Origin     Origin    `json:"origin" db:"origin"`
	IsArchived bool      `json:"is_archived" db:"is_archived"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// IsDue reports whether the point is scheduled for review at or before now.
// A point that was never scheduled is always due.
func (k *KnowledgePoint) IsDue(now time.Time) bool {
	if k.NextReviewDate == nil {
		return true
	}
	return !k.NextReviewDate.After(now)
}
