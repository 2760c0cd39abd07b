package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/lingpoint/internal/identity"
	"github.com/example/lingpoint/internal/localstore"
	"github.com/example/lingpoint/internal/mastery"
	"github.com/example/lingpoint/internal/remote"
	syncsvc "github.com/example/lingpoint/internal/sync"
	"github.com/example/lingpoint/pkg/models"
)

// fakeRemote is an in-memory stand-in for the remote store. It also
// implements the reconciler's Creator so promotion flows can be tested
// end to end.
type fakeRemote struct {
	mu      sync.Mutex
	points  map[string]models.KnowledgePoint // keyed by composite string
	nextSeq int64

	failOps     error
	createCalls int
	updateCalls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{points: map[string]models.KnowledgePoint{}}
}

func (f *fakeRemote) Create(ctx context.Context, req remote.CreateRequest) (models.CompositeID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOps != nil {
		return models.CompositeID{}, f.failOps
	}
	f.createCalls++
	f.nextSeq++
	id := models.CompositeID{OwnerID: 42, SequenceID: f.nextSeq}
	f.points[id.String()] = models.KnowledgePoint{
		Composite:      &id,
		Category:       req.Category,
		Subcategory:    req.Subcategory,
		CorrectPhrase:  req.CorrectPhrase,
		Explanation:    req.Explanation,
		MasteryLevel:   req.MasteryLevel,
		MistakeCount:   req.MistakeCount,
		CorrectCount:   req.CorrectCount,
		NextReviewDate: req.NextReviewDate,
		Origin:         models.OriginRemote,
	}
	return id, nil
}

func (f *fakeRemote) FetchActive(ctx context.Context) ([]models.KnowledgePoint, error) {
	return f.fetch(false)
}

func (f *fakeRemote) FetchArchived(ctx context.Context) ([]models.KnowledgePoint, error) {
	return f.fetch(true)
}

func (f *fakeRemote) fetch(archived bool) ([]models.KnowledgePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOps != nil {
		return nil, f.failOps
	}
	var out []models.KnowledgePoint
	for _, p := range f.points {
		if p.IsArchived == archived {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRemote) setArchived(id models.CompositeID, archived bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOps != nil {
		return f.failOps
	}
	p, ok := f.points[id.String()]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	p.IsArchived = archived
	f.points[id.String()] = p
	return nil
}

func (f *fakeRemote) Archive(ctx context.Context, id models.CompositeID) error {
	return f.setArchived(id, true)
}

func (f *fakeRemote) Unarchive(ctx context.Context, id models.CompositeID) error {
	return f.setArchived(id, false)
}

func (f *fakeRemote) Delete(ctx context.Context, id models.CompositeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOps != nil {
		return f.failOps
	}
	delete(f.points, id.String())
	return nil
}

func (f *fakeRemote) UpdateMastery(ctx context.Context, id models.CompositeID, update remote.MasteryUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOps != nil {
		return f.failOps
	}
	p, ok := f.points[id.String()]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	f.updateCalls++
	p.MasteryLevel = update.MasteryLevel
	p.MistakeCount = update.MistakeCount
	p.CorrectCount = update.CorrectCount
	p.ConsecutiveCorrect = update.ConsecutiveCorrect
	p.NextReviewDate = update.NextReviewDate
	f.points[id.String()] = p
	return nil
}

func newTestRepo(t *testing.T, remoteAPI RemoteAPI) (*Repository, *localstore.Store) {
	t.Helper()
	store, err := localstore.Open(localstore.Config{
		Driver: "sqlite3",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	repo := New(store, remoteAPI, mastery.NewEngine(), zap.NewNop())
	return repo, store
}

func TestFetchActiveMergesAndDeduplicates(t *testing.T) {
	fake := newFakeRemote()
	repo, store := newTestRepo(t, fake)
	ctx := context.Background()

	// One remote point, also cached locally with stale content.
	id := models.CompositeID{OwnerID: 42, SequenceID: 1}
	fake.points[id.String()] = models.KnowledgePoint{
		Composite:     &id,
		Category:      "Grammar",
		CorrectPhrase: "gone",
		Explanation:   "fresh from server",
		Origin:        models.OriginRemote,
	}
	require.NoError(t, store.Save(&models.KnowledgePoint{
		Composite:     &id,
		Category:      "Grammar",
		CorrectPhrase: "gone",
		Explanation:   "stale cache",
		Origin:        models.OriginRemote,
	}))

	// And one pure guest point.
	require.NoError(t, repo.Create(ctx, &models.KnowledgePoint{Category: "Vocabulary", CorrectPhrase: "went"}))

	points, err := repo.FetchActive(ctx)
	require.NoError(t, err)
	require.Len(t, points, 2)

	byID := map[string]models.KnowledgePoint{}
	for _, p := range points {
		p := p
		byID[identity.EffectiveID(&p)] = p
	}
	assert.Equal(t, "fresh from server", byID["42:1"].Explanation, "remote entry wins over local cache")
	assert.Contains(t, byID, identity.FallbackPrefix+stableHashOf(t, "went"))
}

// stableHashOf mirrors the resolver's fallback derivation for
// assertions without hardcoding hash values in every test.
func stableHashOf(t *testing.T, phrase string) string {
	t.Helper()
	p := models.KnowledgePoint{CorrectPhrase: phrase}
	id := identity.EffectiveID(&p)
	return id[len(identity.FallbackPrefix):]
}

func TestFetchActiveDegradesToLocalOnRemoteFailure(t *testing.T) {
	fake := newFakeRemote()
	repo, _ := newTestRepo(t, fake)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.KnowledgePoint{Category: "Grammar", CorrectPhrase: "went"}))
	fake.failOps = fmt.Errorf("%w: connection refused", models.ErrRemoteUnreachable)

	points, err := repo.FetchActive(ctx)
	require.NoError(t, err, "reads are offline-first")
	require.Len(t, points, 1)
	assert.Equal(t, "went", points[0].CorrectPhrase)
}

func TestArchiveLocalPointIsIdempotent(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()

	p := &models.KnowledgePoint{Category: "Grammar", CorrectPhrase: "went", MasteryLevel: 2.0}
	require.NoError(t, repo.Create(ctx, p))
	id := identity.EffectiveID(p)

	require.NoError(t, repo.Archive(ctx, id))
	require.NoError(t, repo.Archive(ctx, id), "archiving an archived point still succeeds")

	archived, err := repo.FetchArchived(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.True(t, archived[0].IsArchived)

	active, err := repo.FetchActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Unarchive restores everything except the flag.
	require.NoError(t, repo.Unarchive(ctx, id))
	active, err = repo.FetchActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.False(t, active[0].IsArchived)
	assert.Equal(t, 2.0, active[0].MasteryLevel)
	assert.Equal(t, "went", active[0].CorrectPhrase)
}

func TestArchiveRemotePointRoutesToRemote(t *testing.T) {
	fake := newFakeRemote()
	repo, _ := newTestRepo(t, fake)
	ctx := context.Background()

	id := models.CompositeID{OwnerID: 42, SequenceID: 1}
	fake.points[id.String()] = models.KnowledgePoint{
		Composite: &id, Category: "Grammar", CorrectPhrase: "gone", Origin: models.OriginRemote,
	}

	require.NoError(t, repo.Archive(ctx, "42:1"))
	assert.True(t, fake.points[id.String()].IsArchived)
}

func TestFetchSkipsStaleRemoteCacheWhenRemoteFetchSucceeds(t *testing.T) {
	fake := newFakeRemote()
	repo, store := newTestRepo(t, fake)
	ctx := context.Background()

	// The server archived the point; the cached copy still says active.
	id := models.CompositeID{OwnerID: 42, SequenceID: 1}
	fake.points[id.String()] = models.KnowledgePoint{
		Composite: &id, Category: "Grammar", CorrectPhrase: "gone", Origin: models.OriginRemote, IsArchived: true,
	}
	require.NoError(t, store.Save(&models.KnowledgePoint{
		Composite: &id, Category: "Grammar", CorrectPhrase: "gone", Origin: models.OriginRemote,
	}))

	archived, err := repo.FetchArchived(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.True(t, archived[0].IsArchived)

	active, err := repo.FetchActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active, "a point cannot be active and archived at once")
}

func TestFetchDropsRemotePointDeletedOnServer(t *testing.T) {
	fake := newFakeRemote()
	repo, store := newTestRepo(t, fake)
	ctx := context.Background()

	// Cached copy of a point the server no longer has, next to a guest
	// point that must survive.
	id := models.CompositeID{OwnerID: 42, SequenceID: 1}
	require.NoError(t, store.Save(&models.KnowledgePoint{
		Composite: &id, Category: "Grammar", CorrectPhrase: "gone", Origin: models.OriginRemote,
	}))
	require.NoError(t, repo.Create(ctx, &models.KnowledgePoint{Category: "Grammar", CorrectPhrase: "went"}))

	active, err := repo.FetchActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1, "a server-side delete must not be resurrected from cache")
	assert.Equal(t, "went", active[0].CorrectPhrase)

	// Offline the cached copy is still served.
	fake.failOps = fmt.Errorf("%w: connection refused", models.ErrRemoteUnreachable)
	active, err = repo.FetchActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestArchiveFailurePreservesPriorState(t *testing.T) {
	fake := newFakeRemote()
	repo, store := newTestRepo(t, fake)
	ctx := context.Background()

	id := models.CompositeID{OwnerID: 42, SequenceID: 1}
	fake.points[id.String()] = models.KnowledgePoint{
		Composite: &id, Category: "Grammar", CorrectPhrase: "gone", Origin: models.OriginRemote,
	}
	require.NoError(t, store.Save(&models.KnowledgePoint{
		Composite: &id, Category: "Grammar", CorrectPhrase: "gone", Origin: models.OriginRemote,
	}))

	fake.failOps = fmt.Errorf("%w: 502", models.ErrRemoteUnreachable)
	err := repo.Archive(ctx, "42:1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRemoteUnreachable)

	points, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.False(t, points[0].IsArchived, "cached copy must not flip when the remote write failed")
}

func TestSubmitOutcomeOnGuestPoint(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()

	p := &models.KnowledgePoint{Category: "Grammar", CorrectPhrase: "I have been studying", MasteryLevel: 1.0}
	require.NoError(t, repo.Create(ctx, p))
	id := identity.EffectiveID(p)

	var updated models.KnowledgePoint
	var err error
	for i := 0; i < 3; i++ {
		updated, err = repo.SubmitOutcome(ctx, id, true, "")
		require.NoError(t, err)
	}

	assert.Equal(t, 3, updated.CorrectCount)
	assert.Equal(t, 2.5, updated.MasteryLevel)
	assert.NotEqual(t, mastery.TierWeak, mastery.TierFor(updated.MasteryLevel))

	// The update is durable.
	active, err := repo.FetchActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 2.5, active[0].MasteryLevel)
}

func TestSubmitOutcomeOnRemotePoint(t *testing.T) {
	fake := newFakeRemote()
	repo, _ := newTestRepo(t, fake)
	ctx := context.Background()

	id := models.CompositeID{OwnerID: 42, SequenceID: 1}
	fake.points[id.String()] = models.KnowledgePoint{
		Composite: &id, Category: "Grammar", CorrectPhrase: "gone", MasteryLevel: 3.0, Origin: models.OriginRemote,
	}

	updated, err := repo.SubmitOutcome(ctx, "42:1", false, models.SeverityCritical)
	require.NoError(t, err)
	assert.Equal(t, 1.5, updated.MasteryLevel)
	assert.Equal(t, 1, updated.MistakeCount)
	assert.Equal(t, 1, fake.updateCalls)
	assert.Equal(t, 1.5, fake.points[id.String()].MasteryLevel)
}

func TestDeleteRoutesByOrigin(t *testing.T) {
	fake := newFakeRemote()
	repo, store := newTestRepo(t, fake)
	ctx := context.Background()

	guest := &models.KnowledgePoint{Category: "Grammar", CorrectPhrase: "went"}
	require.NoError(t, repo.Create(ctx, guest))

	id := models.CompositeID{OwnerID: 42, SequenceID: 1}
	fake.points[id.String()] = models.KnowledgePoint{
		Composite: &id, Category: "Grammar", CorrectPhrase: "gone", Origin: models.OriginRemote,
	}

	require.NoError(t, repo.Delete(ctx, identity.EffectiveID(guest)))
	require.NoError(t, repo.Delete(ctx, "42:1"))

	points, err := store.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, points)
	assert.Empty(t, fake.points)

	err = repo.Delete(ctx, "42:1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCompositeForRecoversIdentityFromEffectiveID(t *testing.T) {
	id := models.CompositeID{OwnerID: 42, SequenceID: 7}
	p := &models.KnowledgePoint{Composite: &id, Origin: models.OriginRemote}

	got, err := compositeFor(p, "42:7")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	// A record that lost its identity fields falls back to parsing the
	// caller's ID.
	got, err = compositeFor(&models.KnowledgePoint{Origin: models.OriginRemote}, "42:7")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = compositeFor(&models.KnowledgePoint{Origin: models.OriginRemote}, identity.FallbackPrefix+"abc")
	assert.ErrorIs(t, err, models.ErrIdentityUnresolvable)
}

func TestSubmitOutcomeSerializesPerEffectiveID(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()

	p := &models.KnowledgePoint{Category: "Grammar", CorrectPhrase: "went"}
	require.NoError(t, repo.Create(ctx, p))
	id := identity.EffectiveID(p)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.SubmitOutcome(ctx, id, true, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	active, err := repo.FetchActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 10, active[0].CorrectCount, "concurrent outcomes must not be lost")
}

func TestFetchDueOrdering(t *testing.T) {
	repo, store := newTestRepo(t, nil)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	past := now.AddDate(0, 0, -2)
	earlier := now.AddDate(0, 0, -5)
	future := now.AddDate(0, 0, 3)

	require.NoError(t, store.Save(&models.KnowledgePoint{Category: "A", CorrectPhrase: "strong", MasteryLevel: 4.0, NextReviewDate: &past}))
	require.NoError(t, store.Save(&models.KnowledgePoint{Category: "A", CorrectPhrase: "weak late", MasteryLevel: 1.0, NextReviewDate: &past}))
	require.NoError(t, store.Save(&models.KnowledgePoint{Category: "A", CorrectPhrase: "weak early", MasteryLevel: 1.0, NextReviewDate: &earlier}))
	require.NoError(t, store.Save(&models.KnowledgePoint{Category: "A", CorrectPhrase: "not due", MasteryLevel: 0.5, NextReviewDate: &future}))

	due, err := repo.FetchDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, "weak early", due[0].CorrectPhrase)
	assert.Equal(t, "weak late", due[1].CorrectPhrase)
	assert.Equal(t, "strong", due[2].CorrectPhrase)
}

func TestFilters(t *testing.T) {
	points := []models.KnowledgePoint{
		{Category: "Grammar", CorrectPhrase: "a", MasteryLevel: 0.5},
		{Category: "Grammar", CorrectPhrase: "b", MasteryLevel: 2.0},
		{Category: "Vocabulary", CorrectPhrase: "c", MasteryLevel: 4.5},
	}

	weak := FilterByTier(points, mastery.TierWeak)
	require.Len(t, weak, 1)
	assert.Equal(t, "a", weak[0].CorrectPhrase)

	grammar := FilterByCategory(points, "Grammar")
	assert.Len(t, grammar, 2)
}

// Full lifecycle in one flow: a guest point gains a composite identity
// after reconciliation and stops being a guest.
func TestGuestPointLifecycleThroughPromotion(t *testing.T) {
	fake := newFakeRemote()
	repo, store := newTestRepo(t, fake)
	ctx := context.Background()

	guest := &models.KnowledgePoint{Category: "Grammar", CorrectPhrase: "I have been studying", MasteryLevel: 0.5}
	require.NoError(t, repo.Create(ctx, guest))

	guestID := identity.EffectiveID(guest)
	require.Contains(t, guestID, identity.FallbackPrefix)

	reconciler := syncsvc.NewReconciler(store, fake, zap.NewNop())
	result, err := reconciler.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, result.Promoted, 1)

	active, err := repo.FetchActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	got := active[0]
	require.NotNil(t, got.Composite, "promoted point is retrievable with a composite identifier")
	assert.Equal(t, models.OriginRemote, got.Origin)
	assert.NotEqual(t, models.LocalPendingSyncNotes, got.AIReviewNotes)

	// No local-only record remains in the local store.
	locals, err := store.LoadAll()
	require.NoError(t, err)
	for _, p := range locals {
		assert.NotEqual(t, models.OriginLocal, p.Origin)
	}
}
