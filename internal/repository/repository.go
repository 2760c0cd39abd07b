// Package repository is the single façade the presentation layer
// calls. It composes the identity resolver, the mastery engine and the
// two stores, and presents one de-duplicated view of the user's
// knowledge points regardless of where each one lives.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/lingpoint/internal/identity"
	"github.com/example/lingpoint/internal/localstore"
	"github.com/example/lingpoint/internal/mastery"
	"github.com/example/lingpoint/internal/remote"
	"github.com/example/lingpoint/pkg/models"
)

// RemoteAPI is the slice of the remote store the repository uses.
// It is nil while the user is unauthenticated.
type RemoteAPI interface {
	FetchActive(ctx context.Context) ([]models.KnowledgePoint, error)
	FetchArchived(ctx context.Context) ([]models.KnowledgePoint, error)
	Archive(ctx context.Context, id models.CompositeID) error
	Unarchive(ctx context.Context, id models.CompositeID) error
	Delete(ctx context.Context, id models.CompositeID) error
	UpdateMastery(ctx context.Context, id models.CompositeID, update remote.MasteryUpdate) error
}

// Repository routes every operation by effective ID to whichever store
// holds the record, and serializes mutations per effective ID so a
// delete and a mastery update on the same point cannot race.
type Repository struct {
	local  *localstore.Store
	remote RemoteAPI
	engine *mastery.Engine
	log    *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock injects the time source. Tests use it; production keeps
// time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// New creates a repository. remoteAPI may be nil for guest mode.
func New(local *localstore.Store, remoteAPI RemoteAPI, engine *mastery.Engine, log *zap.Logger, opts ...Option) *Repository {
	r := &Repository{
		local:  local,
		remote: remoteAPI,
		engine: engine,
		log:    log,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lockFor returns the mutation lock for an effective ID. At most one
// mutation per ID is in flight; later ones wait for the prior to settle.
func (r *Repository) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Create records a new guest knowledge point in the local store. Points
// with server identity are created by the remote store during grading,
// not here.
func (r *Repository) Create(ctx context.Context, p *models.KnowledgePoint) error {
	if err := identity.Validate(p); err != nil {
		return err
	}
	p.Origin = models.OriginLocal
	return r.local.Save(p)
}

// FetchActive returns all non-archived points from both stores,
// de-duplicated by effective ID with remote entries winning over local
// ones. Reads are offline-first: a remote fetch failure degrades to
// the on-device view instead of failing the call.
func (r *Repository) FetchActive(ctx context.Context) ([]models.KnowledgePoint, error) {
	return r.fetchMerged(ctx, false)
}

// FetchArchived returns all archived points, merged the same way as
// FetchActive.
func (r *Repository) FetchArchived(ctx context.Context) ([]models.KnowledgePoint, error) {
	return r.fetchMerged(ctx, true)
}

func (r *Repository) fetchMerged(ctx context.Context, archived bool) ([]models.KnowledgePoint, error) {
	var remotePoints []models.KnowledgePoint
	remoteOK := false
	if r.remote != nil {
		var err error
		if archived {
			remotePoints, err = r.remote.FetchArchived(ctx)
		} else {
			remotePoints, err = r.remote.FetchActive(ctx)
		}
		if err != nil {
			if r.log != nil {
				r.log.Warn("remote fetch failed, serving local view", zap.Error(err))
			}
			remotePoints = nil
		} else {
			remoteOK = true
		}
	}

	localPoints, err := r.local.LoadAll()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(remotePoints))
	merged := make([]models.KnowledgePoint, 0, len(remotePoints)+len(localPoints))

	for _, p := range remotePoints {
		p := p
		id := identity.EffectiveID(&p)
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, p)
	}

	for _, p := range localPoints {
		p := p
		if p.IsArchived != archived {
			continue
		}
		id := identity.EffectiveID(&p)
		if seen[id] {
			continue
		}
		if remoteOK && p.Origin == models.OriginRemote {
			// The server is authoritative for its own points. A cached
			// copy it no longer reports in this partition is stale and
			// must not reappear here.
			continue
		}
		seen[id] = true
		merged = append(merged, p)
	}

	return merged, nil
}

// FetchDue returns the active points scheduled for review at or before
// now, hardest first: lowest mastery, then earliest due date.
func (r *Repository) FetchDue(ctx context.Context, now time.Time) ([]models.KnowledgePoint, error) {
	active, err := r.FetchActive(ctx)
	if err != nil {
		return nil, err
	}

	var due []models.KnowledgePoint
	for _, p := range active {
		if p.IsDue(now) {
			due = append(due, p)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].MasteryLevel != due[j].MasteryLevel {
			return due[i].MasteryLevel < due[j].MasteryLevel
		}
		di, dj := due[i].NextReviewDate, due[j].NextReviewDate
		if di == nil || dj == nil {
			return di == nil && dj != nil
		}
		return di.Before(*dj)
	})
	return due, nil
}

// Archive marks the identified point archived. Archiving an archived
// point is a no-op that still succeeds.
func (r *Repository) Archive(ctx context.Context, effectiveID string) error {
	return r.setArchived(ctx, effectiveID, true)
}

// Unarchive clears the archived flag of the identified point.
func (r *Repository) Unarchive(ctx context.Context, effectiveID string) error {
	return r.setArchived(ctx, effectiveID, false)
}

func (r *Repository) setArchived(ctx context.Context, effectiveID string, archived bool) error {
	l := r.lockFor(effectiveID)
	l.Lock()
	defer l.Unlock()

	p, err := r.find(ctx, effectiveID)
	if err != nil {
		return err
	}
	if p.IsArchived == archived {
		return nil
	}

	if p.Origin == models.OriginRemote {
		if r.remote == nil {
			return fmt.Errorf("%w: archive requires sign-in", models.ErrRemoteUnreachable)
		}
		cid, err := compositeFor(p, effectiveID)
		if err != nil {
			return err
		}

		var opErr error
		if archived {
			opErr = r.remote.Archive(ctx, cid)
		} else {
			opErr = r.remote.Unarchive(ctx, cid)
		}
		if opErr != nil {
			// Prior state preserved: the cached copy is only flipped
			// after the remote write succeeds.
			return opErr
		}
	}

	p.IsArchived = archived
	if err := r.local.Save(p); err != nil {
		if p.Origin == models.OriginRemote {
			// The server accepted the flip; the merged view skips the
			// stale cached copy until a later save overwrites it.
			if r.log != nil {
				r.log.Warn("cache update after archive failed", zap.String("effective_id", effectiveID), zap.Error(err))
			}
			return nil
		}
		return err
	}
	return nil
}

// Delete removes the identified point from whichever store holds it.
func (r *Repository) Delete(ctx context.Context, effectiveID string) error {
	l := r.lockFor(effectiveID)
	l.Lock()
	defer l.Unlock()

	p, err := r.find(ctx, effectiveID)
	if err != nil {
		return err
	}

	if p.Origin == models.OriginRemote {
		if r.remote == nil {
			return fmt.Errorf("%w: delete requires sign-in", models.ErrRemoteUnreachable)
		}
		cid, err := compositeFor(p, effectiveID)
		if err != nil {
			return err
		}
		if err := r.remote.Delete(ctx, cid); err != nil {
			return err
		}
	}

	if _, err := r.local.Remove(p.Category, p.CorrectPhrase); err != nil {
		if p.Origin == models.OriginRemote {
			if r.log != nil {
				r.log.Warn("cache removal after delete failed", zap.String("effective_id", effectiveID), zap.Error(err))
			}
			return nil
		}
		return err
	}
	return nil
}

// SubmitOutcome applies one review answer to the identified point and
// returns its updated state. Severity only matters for incorrect
// answers and may be empty.
func (r *Repository) SubmitOutcome(ctx context.Context, effectiveID string, wasCorrect bool, severity models.Severity) (models.KnowledgePoint, error) {
	l := r.lockFor(effectiveID)
	l.Lock()
	defer l.Unlock()

	p, err := r.find(ctx, effectiveID)
	if err != nil {
		return models.KnowledgePoint{}, err
	}

	updated := r.engine.ApplyOutcome(*p, wasCorrect, severity, r.now())

	if updated.Origin == models.OriginRemote {
		if r.remote == nil {
			return models.KnowledgePoint{}, fmt.Errorf("%w: mastery update requires sign-in", models.ErrRemoteUnreachable)
		}
		cid, err := compositeFor(&updated, effectiveID)
		if err != nil {
			return models.KnowledgePoint{}, err
		}
		err = r.remote.UpdateMastery(ctx, cid, remote.MasteryUpdate{
			MasteryLevel:       updated.MasteryLevel,
			MistakeCount:       updated.MistakeCount,
			CorrectCount:       updated.CorrectCount,
			ConsecutiveCorrect: updated.ConsecutiveCorrect,
			NextReviewDate:     updated.NextReviewDate,
		})
		if err != nil {
			// Prior state preserved: nothing was written anywhere.
			return models.KnowledgePoint{}, err
		}
	}

	if err := r.local.Save(&updated); err != nil {
		if updated.Origin == models.OriginRemote {
			if r.log != nil {
				r.log.Warn("cache update after mastery change failed", zap.String("effective_id", effectiveID), zap.Error(err))
			}
			return updated, nil
		}
		return models.KnowledgePoint{}, err
	}
	return updated, nil
}

// compositeFor resolves the composite identity a remote mutation needs.
// When the record itself lost its owner and sequence fields, a
// composite-form effective ID is parsed back instead of failing.
func compositeFor(p *models.KnowledgePoint, effectiveID string) (models.CompositeID, error) {
	if p.Composite != nil {
		return *p.Composite, nil
	}
	if cid, err := models.ParseCompositeID(effectiveID); err == nil {
		return cid, nil
	}
	return models.CompositeID{}, fmt.Errorf("%w: remote point %s has no composite id", models.ErrIdentityUnresolvable, effectiveID)
}

// find locates a record by effective ID, local store first, then the
// remote store.
func (r *Repository) find(ctx context.Context, effectiveID string) (*models.KnowledgePoint, error) {
	localPoints, err := r.local.LoadAll()
	if err != nil {
		return nil, err
	}
	for i := range localPoints {
		if identity.EffectiveID(&localPoints[i]) == effectiveID {
			return &localPoints[i], nil
		}
	}

	if r.remote != nil {
		for _, fetch := range []func(context.Context) ([]models.KnowledgePoint, error){r.remote.FetchActive, r.remote.FetchArchived} {
			points, err := fetch(ctx)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					continue
				}
				return nil, err
			}
			for i := range points {
				if identity.EffectiveID(&points[i]) == effectiveID {
					return &points[i], nil
				}
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", models.ErrNotFound, effectiveID)
}

// FilterByTier keeps only points in the given mastery tier.
func FilterByTier(points []models.KnowledgePoint, tier mastery.Tier) []models.KnowledgePoint {
	var out []models.KnowledgePoint
	for _, p := range points {
		if mastery.TierFor(p.MasteryLevel) == tier {
			out = append(out, p)
		}
	}
	return out
}

// FilterByCategory keeps only points in the given category.
func FilterByCategory(points []models.KnowledgePoint, category string) []models.KnowledgePoint {
	var out []models.KnowledgePoint
	for _, p := range points {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}
