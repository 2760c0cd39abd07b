// Package sync folds guest-created knowledge points into the
// authoritative remote store. Promotion is retried and never silently
// dropped: a point that keeps failing stays fully usable in guest mode,
// only cloud-exclusive actions remain blocked for it.
package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/lingpoint/internal/identity"
	"github.com/example/lingpoint/internal/localstore"
	"github.com/example/lingpoint/internal/remote"
	"github.com/example/lingpoint/pkg/models"
)

// Creator is the single remote operation reconciliation needs.
type Creator interface {
	Create(ctx context.Context, req remote.CreateRequest) (models.CompositeID, error)
}

// Conflict is a guest point whose promotion failed. It is retried on
// the next trigger.
type Conflict struct {
	Point models.KnowledgePoint
	Err   error
}

// Result summarizes one reconciliation run.
type Result struct {
	// Guest points now carrying a server-assigned composite identifier
	Promoted []models.KnowledgePoint
	// Already-synced points cached locally, passed through unchanged
	Passed []models.KnowledgePoint
	// Guest points whose promotion failed, left untouched for retry
	Conflicts []Conflict
}

// Reconciler promotes guest points from the local store into the
// remote store.
type Reconciler struct {
	store  *localstore.Store
	remote Creator
	log    *zap.Logger
}

// NewReconciler creates a reconciler over the given stores.
func NewReconciler(store *localstore.Store, creator Creator, log *zap.Logger) *Reconciler {
	return &Reconciler{store: store, remote: creator, log: log}
}

// Reconcile runs one promotion pass. For every local-only point it
// asks the remote store to create a server-side record, then swaps the
// content-keyed guest record for the composite-identified form. The
// guest record is only deleted after the remote write is confirmed, so
// a failed promotion never loses local data.
//
// Running Reconcile again over an unchanged store is a no-op for
// already promoted points: they no longer carry the local origin and
// fall into the pass-through partition.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	points, err := r.store.LoadAll()
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, p := range points {
		if err := ctx.Err(); err != nil {
			// Cancelled mid-run (logout). Everything not yet promoted
			// stays a guest point; the store is never left half-written.
			return result, err
		}

		if p.Origin != models.OriginLocal {
			result.Passed = append(result.Passed, p)
			continue
		}

		promoted, err := r.promote(ctx, p)
		if err != nil {
			if r.log != nil {
				r.log.Warn("promotion failed, keeping guest point",
					zap.String("effective_id", identity.EffectiveID(&p)),
					zap.Error(err))
			}
			result.Conflicts = append(result.Conflicts, Conflict{Point: p, Err: err})
			continue
		}
		result.Promoted = append(result.Promoted, promoted)
	}

	if r.log != nil {
		r.log.Info("reconciliation finished",
			zap.Int("promoted", len(result.Promoted)),
			zap.Int("passed", len(result.Passed)),
			zap.Int("conflicts", len(result.Conflicts)))
	}
	return result, nil
}

func (r *Reconciler) promote(ctx context.Context, p models.KnowledgePoint) (models.KnowledgePoint, error) {
	if err := identity.Validate(&p); err != nil {
		return models.KnowledgePoint{}, err
	}

	id, err := r.remote.Create(ctx, remote.CreateRequest{
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
		NextReviewDate:           p.NextReviewDate,
	})
	if err != nil {
		return models.KnowledgePoint{}, err
	}

	promoted := p
	promoted.Composite = &models.CompositeID{OwnerID: id.OwnerID, SequenceID: id.SequenceID}
	promoted.Origin = models.OriginRemote
	if promoted.AIReviewNotes == models.LocalPendingSyncNotes {
		promoted.AIReviewNotes = ""
	}

	if err := r.store.ReplacePromoted(p.Category, p.CorrectPhrase, &promoted); err != nil {
		// The server record exists but the local swap failed. The guest
		// record stays; the next run retries under the same
		// content-derived idempotency key, so no duplicate is created.
		return models.KnowledgePoint{}, err
	}
	return promoted, nil
}
