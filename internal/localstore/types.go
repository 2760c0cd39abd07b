package localstore

import (
	"database/sql"
	"time"

	"github.com/example/lingpoint/pkg/models"
)

// pointRow is the database shape of a knowledge point. Identifier and
// date columns are nullable; the model uses pointers for those.
type pointRow struct {
	ID                       int64         `db:"id"`
	OwnerID                  sql.NullInt64 `db:"owner_id"`
	SequenceID               sql.NullInt64 `db:"sequence_id"`
	LegacyID                 sql.NullInt64 `db:"legacy_id"`
	AncientID                sql.NullInt64 `db:"ancient_id"`
	Category                 string        `db:"category"`
	Subcategory              string        `db:"subcategory"`
	CorrectPhrase            string        `db:"correct_phrase"`
	Explanation              string        `db:"explanation"`
	UserContextSentence      string        `db:"user_context_sentence"`
	IncorrectPhraseInContext string        `db:"incorrect_phrase_in_context"`
	KeyPointSummary          string        `db:"key_point_summary"`
	MasteryLevel             float64       `db:"mastery_level"`
	MistakeCount             int           `db:"mistake_count"`
	CorrectCount             int           `db:"correct_count"`
	ConsecutiveCorrect       int           `db:"consecutive_correct"`
	NextReviewDate           sql.NullTime  `db:"next_review_date"`
	LastAIReviewDate         sql.NullTime  `db:"last_ai_review_date"`
	AIReviewNotes            string        `db:"ai_review_notes"`
	Origin                   string        `db:"origin"`
	IsArchived               bool          `db:"is_archived"`
	CreatedAt                time.Time     `db:"created_at"`
	UpdatedAt                time.Time     `db:"updated_at"`
}

func rowFromPoint(p *models.KnowledgePoint) pointRow {
	r := pointRow{
		Category:                 p.Category,
		Subcategory:              p.Subcategory,
		CorrectPhrase:            p.CorrectPhrase,
		Explanation:              p.Explanation,
		UserContextSentence:      p.UserContextSentence,
		IncorrectPhraseInContext: p.IncorrectPhraseInContext,
		KeyPointSummary:          p.KeyPointSummary,
		MasteryLevel:             p.MasteryLevel,
		MistakeCount:             p.MistakeCount,
		CorrectCount:             p.CorrectCount,
		ConsecutiveCorrect:       p.ConsecutiveCorrect,
		AIReviewNotes:            p.AIReviewNotes,
		Origin:                   string(p.Origin),
		IsArchived:               p.IsArchived,
	}

	if p.Composite != nil {
		r.OwnerID = sql.NullInt64{Int64: p.Composite.OwnerID, Valid: true}
		r.SequenceID = sql.NullInt64{Int64: p.Composite.SequenceID, Valid: true}
	}
	if p.LegacyID != nil {
		r.LegacyID = sql.NullInt64{Int64: *p.LegacyID, Valid: true}
	}
	if p.AncientID != nil {
		r.AncientID = sql.NullInt64{Int64: *p.AncientID, Valid: true}
	}
	if p.NextReviewDate != nil {
		r.NextReviewDate = sql.NullTime{Time: *p.NextReviewDate, Valid: true}
	}
	if p.LastAIReviewDate != nil {
		r.LastAIReviewDate = sql.NullTime{Time: *p.LastAIReviewDate, Valid: true}
	}
	return r
}

func (r pointRow) toPoint() models.KnowledgePoint {
	p := models.KnowledgePoint{
		Category:                 r.Category,
		Subcategory:              r.Subcategory,
		CorrectPhrase:            r.CorrectPhrase,
		Explanation:              r.Explanation,
		UserContextSentence:      r.UserContextSentence,
		IncorrectPhraseInContext: r.IncorrectPhraseInContext,
		KeyPointSummary:          r.KeyPointSummary,
		MasteryLevel:             r.MasteryLevel,
		MistakeCount:             r.MistakeCount,
		CorrectCount:             r.CorrectCount,
		ConsecutiveCorrect:       r.ConsecutiveCorrect,
		AIReviewNotes:            r.AIReviewNotes,
		Origin:                   models.Origin(r.Origin),
		IsArchived:               r.IsArchived,
		CreatedAt:                r.CreatedAt,
		UpdatedAt:                r.UpdatedAt,
	}

	// A composite identifier is only meaningful with both halves set.
	if r.OwnerID.Valid && r.SequenceID.Valid {
		p.Composite = &models.CompositeID{OwnerID: r.OwnerID.Int64, SequenceID: r.SequenceID.Int64}
	}
	if r.LegacyID.Valid {
		v := r.LegacyID.Int64
		p.LegacyID = &v
	}
	if r.AncientID.Valid {
		v := r.AncientID.Int64
		p.AncientID = &v
	}
	if r.NextReviewDate.Valid {
		t := r.NextReviewDate.Time
		p.NextReviewDate = &t
	}
	if r.LastAIReviewDate.Valid {
		t := r.LastAIReviewDate.Time
		p.LastAIReviewDate = &t
	}
	return p
}
