// Package runner prepares test runs: it plans an allocation per host, hands
// the serialized precondition to the run queue, and commits the schedule.
// Hosts are prepared concurrently; each target is guarded by a distributed
// lock so two planner instances never double-schedule it.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/virtbench/virtbench/internal/config"
	"github.com/virtbench/virtbench/internal/domain"
	"github.com/virtbench/virtbench/internal/precondition"
	"github.com/virtbench/virtbench/internal/scheduler"
)

// Lock is a held preparation lock.
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker serializes preparation per scheduling target.
type Locker interface {
	TryAcquireLock(ctx context.Context, key string, timeout time.Duration) (Lock, error)
}

// Enqueuer hands a planned run with its precondition to the run queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, run *scheduler.Run, precondition []byte) error
}

// Recorder notes the most recently prepared run per host, so operators can
// inspect what was handed out without consuming the queue. May be nil.
type Recorder interface {
	RecordRun(ctx context.Context, hostname string, run *scheduler.Run) error
}

// Runner plans and enqueues runs for a set of hosts.
type Runner struct {
	store    scheduler.Store
	sched    scheduler.Config
	cfg      config.RunnerConfig
	locker   Locker
	queue    Enqueuer
	recorder Recorder
	logger   *zap.Logger
	opts     []scheduler.Option
}

// New creates a runner. opts are passed through to every allocator.
func New(store scheduler.Store, sched scheduler.Config, cfg config.RunnerConfig, locker Locker, queue Enqueuer, recorder Recorder, logger *zap.Logger, opts ...scheduler.Option) *Runner {
	return &Runner{
		store:    store,
		sched:    sched,
		cfg:      cfg,
		locker:   locker,
		queue:    queue,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "runner")),
		opts:     opts,
	}
}

// PrepareHostRuns plans one host-keyed run per named host. Failures are
// isolated per host and aggregated into the returned error.
func (r *Runner) PrepareHostRuns(ctx context.Context, hostnames []string) error {
	return r.prepareAll(ctx, hostnames, func(ctx context.Context, hostname string) (*scheduler.Allocator, error) {
		return scheduler.NewHostAllocator(ctx, r.store, r.sched, r.logger, hostname, r.opts...)
	})
}

// PrepareSubjectRuns plans one subject-keyed run per named host. An empty
// subject name lets each host rotate to its next test subject.
func (r *Runner) PrepareSubjectRuns(ctx context.Context, hostnames []string, subject string, bitness domain.Bitness) error {
	return r.prepareAll(ctx, hostnames, func(ctx context.Context, hostname string) (*scheduler.Allocator, error) {
		return scheduler.NewSubjectAllocator(ctx, r.store, r.sched, r.logger, hostname, subject, bitness, r.opts...)
	})
}

func (r *Runner) prepareAll(ctx context.Context, hostnames []string, build func(context.Context, string) (*scheduler.Allocator, error)) error {
	var wg sync.WaitGroup
	errs := make([]error, len(hostnames))

	for i, hostname := range hostnames {
		wg.Add(1)
		go func(i int, hostname string) {
			defer wg.Done()
			if err := r.prepare(ctx, hostname, build); err != nil {
				errs[i] = fmt.Errorf("host %q: %w", hostname, err)
			}
		}(i, hostname)
	}
	wg.Wait()

	return multierr.Combine(errs...)
}

// prepare runs the plan-enqueue-finalize sequence for one host under its
// target lock. The schedule is committed only after the run is queued, so a
// failed enqueue leaves the entries available for the next attempt.
func (r *Runner) prepare(ctx context.Context, hostname string, build func(context.Context, string) (*scheduler.Allocator, error)) error {
	if r.cfg.PlanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.PlanTimeout)
		defer cancel()
	}

	lock, err := r.locker.TryAcquireLock(ctx, hostname, r.cfg.PlanTimeout)
	if err != nil {
		return fmt.Errorf("failed to lock target: %w", err)
	}
	defer func() {
		if err := lock.Unlock(context.Background()); err != nil {
			r.logger.Warn("Failed to release lock", zap.String("host", hostname), zap.Error(err))
		}
	}()

	alloc, err := build(ctx, hostname)
	if err != nil {
		return err
	}

	run, err := alloc.Plan(ctx)
	if err != nil {
		return err
	}

	payload, err := precondition.Build(run).Marshal()
	if err != nil {
		return err
	}
	if err := r.queue.Enqueue(ctx, run, payload); err != nil {
		return fmt.Errorf("failed to enqueue run: %w", err)
	}

	// The marker is informational; a failure to write it never fails the run.
	if r.recorder != nil {
		if err := r.recorder.RecordRun(ctx, hostname, run); err != nil {
			r.logger.Warn("Failed to record run marker", zap.String("host", hostname), zap.Error(err))
		}
	}

	if err := alloc.Finalize(ctx, run); err != nil {
		return fmt.Errorf("failed to commit schedule: %w", err)
	}
	return nil
}
