package tasks

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sagar-j-gurav/whatsapp-calling/internal/calls"
)

// Sweeper runs the periodic maintenance passes: permission expiry, stale
// counter resets, leftover gateway rooms, recording retention, and the
// monthly usage rollover. One instance per process.

const (
	defaultInterval = 15 * time.Minute

	// staleRoomAge is how long an ended call may keep its room before the
	// sweeper reclaims it. Terminate normally tears rooms down; this catches
	// the ones whose teardown failed.
	staleRoomAge = time.Hour

	sweepTimeout = 2 * time.Minute
)

type PermissionMaintenance interface {
	ExpireGranted(ctx context.Context, now time.Time) (int, error)
	ResetDailyCounters(ctx context.Context, now time.Time) (int, error)
}

type SessionMaintenance interface {
	ListStaleRooms(ctx context.Context, endedBefore time.Time) ([]calls.Session, error)
	ClearGatewayLinkage(ctx context.Context, callID string, now time.Time) error
	ListExpiredRecordings(ctx context.Context, endedBefore time.Time) ([]calls.Session, error)
	ClearRecording(ctx context.Context, callID string, now time.Time) error
}

type RoomDestroyer interface {
	DestroyRoom(ctx context.Context, sessionID, handleID, roomID int64) error
}

type UsageMaintenance interface {
	ResetMonthlyUsage(ctx context.Context, now time.Time) (int, error)
}

type Config struct {
	Interval time.Duration

	// RecordingRetentionDays of zero disables recording cleanup.
	RecordingRetentionDays int
}

type Sweeper struct {
	perms    PermissionMaintenance
	sessions SessionMaintenance
	rooms    RoomDestroyer
	usage    UsageMaintenance

	interval      time.Duration
	retentionDays int

	log   *slog.Logger
	clock func() time.Time

	// removeFile is injectable for tests.
	removeFile func(string) error

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}

	lastMonthlyReset time.Time
}

func NewSweeper(perms PermissionMaintenance, sessions SessionMaintenance, rooms RoomDestroyer, usage UsageMaintenance, cfg Config, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		perms:         perms,
		sessions:      sessions,
		rooms:         rooms,
		usage:         usage,
		interval:      interval,
		retentionDays: cfg.RecordingRetentionDays,
		log:           log,
		clock:         time.Now,
		removeFile:    os.Remove,
	}
}

// Start launches the background loop. Safe to call once; subsequent calls
// are no-ops until Stop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})

	go s.loop(s.stopChan, s.doneChan)
	s.log.Info("maintenance sweeper started", "interval", s.interval.String())
}

// Stop signals the loop and waits for the in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	done := s.doneChan
	s.mu.Unlock()

	<-done
	s.log.Info("maintenance sweeper stopped")
}

func (s *Sweeper) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			s.RunOnce(ctx)
			cancel()
		}
	}
}

// RunOnce executes a single maintenance pass. Every step is independent;
// a failing step is logged and the rest still run.
func (s *Sweeper) RunOnce(ctx context.Context) {
	now := s.clock().UTC()

	if n, err := s.perms.ExpireGranted(ctx, now); err != nil {
		s.log.Error("permission expiry sweep failed", "err", err)
	} else if n > 0 {
		s.log.Info("permissions expired", "count", n)
	}

	if n, err := s.perms.ResetDailyCounters(ctx, now); err != nil {
		s.log.Error("daily counter sweep failed", "err", err)
	} else if n > 0 {
		s.log.Info("daily call counters reset", "count", n)
	}

	s.reclaimRooms(ctx, now)

	if s.retentionDays > 0 {
		s.purgeRecordings(ctx, now)
	}

	// Usage rolls over on the first of the month, once.
	if now.Day() == 1 && !sameMonth(s.lastMonthlyReset, now) {
		if n, err := s.usage.ResetMonthlyUsage(ctx, now); err != nil {
			s.log.Error("monthly usage reset failed", "err", err)
		} else {
			s.lastMonthlyReset = now
			s.log.Info("monthly usage reset", "numbers", n)
		}
	}
}

func (s *Sweeper) reclaimRooms(ctx context.Context, now time.Time) {
	stale, err := s.sessions.ListStaleRooms(ctx, now.Add(-staleRoomAge))
	if err != nil {
		s.log.Error("stale room listing failed", "err", err)
		return
	}
	for _, sess := range stale {
		if err := s.rooms.DestroyRoom(ctx, sess.GatewaySessionID, sess.GatewayHandleID, sess.GatewayRoomID); err != nil {
			s.log.Warn("stale room destroy failed", "call_id", sess.CallID, "room_id", sess.GatewayRoomID, "err", err)
			continue
		}
		if err := s.sessions.ClearGatewayLinkage(ctx, sess.CallID, now); err != nil {
			s.log.Error("gateway linkage clear failed", "call_id", sess.CallID, "err", err)
			continue
		}
		s.log.Info("stale room reclaimed", "call_id", sess.CallID, "room_id", sess.GatewayRoomID)
	}
}

func (s *Sweeper) purgeRecordings(ctx context.Context, now time.Time) {
	cutoff := now.AddDate(0, 0, -s.retentionDays)
	expired, err := s.sessions.ListExpiredRecordings(ctx, cutoff)
	if err != nil {
		s.log.Error("recording retention listing failed", "err", err)
		return
	}
	for _, sess := range expired {
		if err := s.removeFile(sess.RecordingFile); err != nil && !os.IsNotExist(err) {
			s.log.Warn("recording delete failed", "call_id", sess.CallID, "file", sess.RecordingFile, "err", err)
			continue
		}
		if err := s.sessions.ClearRecording(ctx, sess.CallID, now); err != nil {
			s.log.Error("recording reference clear failed", "call_id", sess.CallID, "err", err)
			continue
		}
		s.log.Info("recording purged", "call_id", sess.CallID, "file", sess.RecordingFile)
	}
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
