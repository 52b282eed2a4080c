// Package jobs runs the library's periodic housekeeping on a cron schedule.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Housekeeper is the part of the library the nightly job drives.
type Housekeeper interface {
	SendOverdueReminders(ctx context.Context) (int, error)
	ReleaseLapsedHolds(ctx context.Context) (int, error)
}

type Result struct {
	Reminded int
	Released int
	Err      error
}

// DefaultHoldRelease keeps a lapsed pickup hold from blocking the next
// reserver for more than an hour.
const DefaultHoldRelease = "@hourly"

type Scheduler struct {
	cron     *cron.Cron
	lib      Housekeeper
	log      *slog.Logger
	timeout  time.Duration
	holdSpec string

	runID     cron.EntryID
	releaseID cron.EntryID
}

type Option func(*Scheduler)

// WithHoldRelease sets how often lapsed pickup holds are released between
// full housekeeping runs.
func WithHoldRelease(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.holdSpec = spec
		}
	}
}

// New registers the housekeeping run on spec, a standard five-field cron
// expression or descriptor such as "@daily", and a separate hold release
// entry (hourly unless WithHoldRelease says otherwise).
func New(lib Housekeeper, spec string, log *slog.Logger, opts ...Option) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		cron:     cron.New(),
		lib:      lib,
		log:      log,
		timeout:  5 * time.Minute,
		holdSpec: DefaultHoldRelease,
	}
	for _, o := range opts {
		o(s)
	}
	var err error
	if s.runID, err = s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return nil, err
	}
	if s.releaseID, err = s.cron.AddFunc(s.holdSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.ReleaseHolds(ctx)
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("housekeeping scheduled", "next", s.Next(), "next_hold_release", s.NextRelease())
}

// Stop halts the schedule; the returned context is done once a running job
// has finished.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// Next is the time of the next full housekeeping run.
func (s *Scheduler) Next() time.Time { return s.next(s.runID) }

// NextRelease is the time of the next standalone hold release.
func (s *Scheduler) NextRelease() time.Time { return s.next(s.releaseID) }

func (s *Scheduler) next(id cron.EntryID) time.Time {
	e := s.cron.Entry(id)
	if !e.Valid() {
		return time.Time{}
	}
	if !e.Next.IsZero() {
		return e.Next
	}
	return e.Schedule.Next(time.Now())
}

// ReleaseHolds frees copies whose reserver missed the pickup window.
func (s *Scheduler) ReleaseHolds(ctx context.Context) (int, error) {
	n, err := s.lib.ReleaseLapsedHolds(ctx)
	if err != nil {
		s.log.Error("release lapsed holds", "err", err)
		return n, err
	}
	if n > 0 {
		s.log.Info("released lapsed holds", "released", n)
	}
	return n, nil
}

// RunOnce releases uncollected holds, then sends overdue reminders. Both
// steps run even if the first fails.
func (s *Scheduler) RunOnce(ctx context.Context) Result {
	start := time.Now()
	var (
		r    Result
		errs []error
		err  error
	)
	if r.Released, err = s.lib.ReleaseLapsedHolds(ctx); err != nil {
		s.log.Error("release lapsed holds", "err", err)
		errs = append(errs, err)
	}
	if r.Reminded, err = s.lib.SendOverdueReminders(ctx); err != nil {
		s.log.Error("send overdue reminders", "err", err)
		errs = append(errs, err)
	}
	r.Err = errors.Join(errs...)
	s.log.Info("housekeeping run",
		"released", r.Released,
		"reminded", r.Reminded,
		"failed", r.Err != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return r
}
