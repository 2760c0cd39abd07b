package sync

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/example/lingpoint/pkg/models"
)

// Default window during which due-review reminders may go out.
const (
	DefaultReminderStartHour = 8
	DefaultReminderEndHour   = 22
)

// ReminderWindow bounds the hours of day (0-23, inclusive) during which
// reminders are sent. The zero value means the default window.
type ReminderWindow struct {
	StartHour int
	EndHour   int
}

// Contains reports whether the given hour falls inside the window.
func (w ReminderWindow) Contains(hour int) bool {
	return hour >= w.StartHour && hour <= w.EndHour
}

// Notifier sends due-review reminders.
type Notifier interface {
	SendDueReminder(count int) error
}

// DueSource yields the points currently due for review.
type DueSource interface {
	FetchDue(ctx context.Context, now time.Time) ([]models.KnowledgePoint, error)
}

// Scheduler runs reconciliation and reminder checks on a fixed cadence.
// It stands in for the triggers an interactive client would have:
// reconcile on start and periodically instead of on login/foreground,
// RunManualSync instead of pull-to-refresh.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	reconciler *Reconciler
	due        DueSource
	notifier   Notifier
	interval   time.Duration
	window     ReminderWindow
	log        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. The notifier and due source may be
// nil, in which case reminder checks are skipped.
func NewScheduler(reconciler *Reconciler, due DueSource, notifier Notifier, interval time.Duration, window ReminderWindow, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if window == (ReminderWindow{}) {
		window = ReminderWindow{StartHour: DefaultReminderStartHour, EndHour: DefaultReminderEndHour}
	}
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.UTC),
		reconciler: reconciler,
		due:        due,
		notifier:   notifier,
		interval:   interval,
		window:     window,
		log:        log,
	}
}

// Start begins running all scheduled tasks. An immediate reconcile
// runs first, covering the "just came online" case.
func (s *Scheduler) Start(parent context.Context) {
	s.ctx, s.cancel = context.WithCancel(parent)

	s.runReconcile()

	s.scheduler.Every(s.interval).Do(s.runReconcile)
	s.scheduler.Every(1).Hour().Do(s.checkAndSendReminders)
	s.scheduler.StartAsync()
}

// Stop cancels any in-flight reconciliation and stops all jobs. Safe to
// call on logout; a cancelled run leaves the local store intact.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()
}

// RunManualSync forces a reconciliation pass (user-triggered refresh).
func (s *Scheduler) RunManualSync(ctx context.Context) (Result, error) {
	return s.reconciler.Reconcile(ctx)
}

func (s *Scheduler) runReconcile() {
	if _, err := s.reconciler.Reconcile(s.ctx); err != nil && s.log != nil {
		s.log.Warn("scheduled reconciliation failed", zap.Error(err))
	}
}

// checkAndSendReminders sends a reminder when points are due and the
// current hour falls inside the configured window.
func (s *Scheduler) checkAndSendReminders() {
	if s.notifier == nil || s.due == nil {
		return
	}

	now := time.Now()
	if !s.window.Contains(now.Hour()) {
		if s.log != nil {
			s.log.Debug("outside reminder hours, skipping",
				zap.Int("hour", now.Hour()), zap.Int("start", s.window.StartHour), zap.Int("end", s.window.EndHour))
		}
		return
	}

	due, err := s.due.FetchDue(s.ctx, now)
	if err != nil {
		if s.log != nil {
			s.log.Warn("failed to fetch due points", zap.Error(err))
		}
		return
	}
	if len(due) == 0 {
		return
	}

	if err := s.notifier.SendDueReminder(len(due)); err != nil && s.log != nil {
		s.log.Warn("failed to send due reminder", zap.Error(err))
	}
}
