package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/virtbench/virtbench/internal/domain"
)

// Guest is one sized guest configuration within a planned run.
type Guest struct {
	EntryID int64

	// Seq is the 0-based position of the guest within the run. The VNC
	// display number equals Seq; the MAC address is derived from Seq+1.
	Seq     int
	Display int
	MAC     string

	Image   string
	Format  string
	Test    string
	Command string
	OSType  string
	Bitness domain.Bitness
	Bigmem  bool
	SMP     bool

	Cores     int
	MemoryMiB int64
	ShadowMiB int64
	HAP       bool

	TimeoutSec int
	RuntimeSec int
}

// Run is the ordered result of one allocation. It is consumed by the caller
// and committed with Allocator.Finalize once preparation succeeded.
type Run struct {
	ID      string
	Host    *domain.Host
	Subject *domain.Subject // nil for host-keyed runs
	Guests  []*Guest
}

// Allocator plans one test run for exactly one scheduling target. It is not
// safe for concurrent use; concurrent runs against distinct targets need
// separate instances and store connections.
type Allocator struct {
	store    Store
	cfg      Config
	logger   *zap.Logger
	rng      *rand.Rand
	resolver AddrResolver

	target     TargetRef
	host       *domain.Host
	subject    *domain.Subject
	bitness    domain.Bitness
	lastVendor int64

	memMiB int64
	cores  int
}

// Option tweaks an Allocator.
type Option func(*Allocator)

// WithRand makes all random decisions (vendor tie-break, bucket tie-break,
// sizing) come from rng, for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(a *Allocator) { a.rng = rng }
}

// WithResolver replaces the DNS-based address resolver.
func WithResolver(r AddrResolver) Option {
	return func(a *Allocator) { a.resolver = r }
}

// NewHostAllocator builds an allocator that schedules against the host's own
// schedule table.
func NewHostAllocator(ctx context.Context, store Store, cfg Config, logger *zap.Logger, hostname string, opts ...Option) (*Allocator, error) {
	a, err := newAllocator(ctx, store, cfg, logger, hostname, opts)
	if err != nil {
		return nil, err
	}
	a.target = TargetRef{Kind: HostSchedule, ID: a.host.ID}
	a.bitness = a.host.Bitness
	a.lastVendor = a.host.LastVendorID
	return a, nil
}

// NewSubjectAllocator builds an allocator that schedules against a test
// subject's schedule table, using the named host's resources. An empty
// subject name picks the next subject in rotation order after the host's
// last-subject pointer; otherwise the (subject, bitness) pair is looked up
// directly.
func NewSubjectAllocator(ctx context.Context, store Store, cfg Config, logger *zap.Logger, hostname, subject string, bitness domain.Bitness, opts ...Option) (*Allocator, error) {
	a, err := newAllocator(ctx, store, cfg, logger, hostname, opts)
	if err != nil {
		return nil, err
	}

	var s *domain.Subject
	if subject == "" {
		s, err = store.NextSubject(ctx, a.host.LastSubjectID)
		if errors.Is(err, domain.ErrNotFound) {
			// Wrap around to the smallest subject ID.
			s, err = store.NextSubject(ctx, 0)
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("host %q: %w", hostname, domain.ErrNothingToSchedule)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to rotate test subject: %w", err)
		}
	} else {
		s, err = store.SubjectByName(ctx, subject, bitness)
		if err != nil {
			return nil, fmt.Errorf("subject %q (%s-bit): %w", subject, bitness, err)
		}
		if !s.Enabled {
			return nil, fmt.Errorf("subject %q: %w", subject, domain.ErrDisabled)
		}
	}

	a.target = TargetRef{Kind: SubjectSchedule, ID: s.ID}
	a.subject = s
	a.bitness = s.Bitness
	a.lastVendor = s.LastVendorID
	return a, nil
}

func newAllocator(ctx context.Context, store Store, cfg Config, logger *zap.Logger, hostname string, opts []Option) (*Allocator, error) {
	h, err := store.HostByName(ctx, hostname)
	if err != nil {
		return nil, fmt.Errorf("host %q: %w", hostname, err)
	}
	if !h.Enabled {
		return nil, fmt.Errorf("host %q: %w", hostname, domain.ErrDisabled)
	}

	a := &Allocator{
		store:    store,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "allocator"), zap.String("host", h.Name)),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		resolver: dnsResolver{},
		host:     h,
		memMiB:   h.MemoryMiB - cfg.ReservedHostMemMiB,
		cores:    h.Cores + cfg.ExtraCoreSlots,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Plan runs the allocation loop: it repeatedly rotates to the next vendor,
// picks one eligible (test, image) combination, sizes it, and deducts its
// resources, until the budget is exhausted or no combination remains.
func (a *Allocator) Plan(ctx context.Context) (*Run, error) {
	ip, err := a.resolver.LookupIPv4(ctx, a.host.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve host %q: %w", a.host.Name, err)
	}

	a.logger.Info("Planning test run",
		zap.String("target_kind", a.target.Kind.String()),
		zap.Int64("memory_mib", a.memMiB),
		zap.Int("core_slots", a.cores),
	)

	run := &Run{ID: uuid.NewString(), Host: a.host, Subject: a.subject}
	var used []string

	for a.memMiB >= a.cfg.MinGuestMemMiB && a.cores > 0 {
		cand, err := a.pickCandidate(ctx, used)
		if err != nil {
			return nil, err
		}
		if cand == nil {
			if len(run.Guests) == 0 {
				return nil, fmt.Errorf("host %q: %w", a.host.Name, domain.ErrNothingToSchedule)
			}
			break
		}

		g := a.sizeGuest(cand)
		g.Seq = len(run.Guests)
		g.Display = g.Seq
		g.MAC = macAddress(a.cfg.MACPrefix, ip, g.Seq+1)

		used = append(used, g.Image)
		run.Guests = append(run.Guests, g)

		a.logger.Debug("Accepted guest",
			zap.Int("seq", g.Seq),
			zap.String("image", g.Image),
			zap.String("test", g.Test),
			zap.Int("cores", g.Cores),
			zap.Int64("memory_mib", g.MemoryMiB),
			zap.Int64("memory_remaining_mib", a.memMiB),
			zap.Int("cores_remaining", a.cores),
		)
	}

	a.logger.Info("Planned test run",
		zap.String("run_id", run.ID),
		zap.Int("guests", len(run.Guests)),
	)
	return run, nil
}

// sizeGuest assigns cores, memory, shadow memory, and the nested paging flag
// to a picked candidate and deducts the assignment from the running budget.
func (a *Allocator) sizeGuest(c *Candidate) *Guest {
	cores := 1
	if a.cores > 1 && c.SMP {
		cores = 2 + a.rng.Intn(a.cores-1) // uniform in [2, cores remaining]
	}

	var mem int64
	switch {
	case a.memMiB > a.cfg.BigmemThresholdMiB && c.Bigmem:
		mem = a.sampleMem(a.cfg.BigmemThresholdMiB, a.memMiB)
	case a.memMiB > a.cfg.BigmemThresholdMiB:
		mem = a.sampleMem(a.cfg.MinGuestMemMiB, a.cfg.BigmemThresholdMiB)
	default:
		mem = a.sampleMem(a.cfg.MinGuestMemMiB, a.memMiB)
	}

	hap := true
	if mem > a.cfg.HAPMem32LimitMiB && a.bitness == domain.Bits32 {
		hap = false
	}

	a.cores -= cores
	a.memMiB -= mem

	return &Guest{
		EntryID:    c.EntryID,
		Image:      c.Image,
		Format:     c.Format,
		Test:       c.Test,
		Command:    c.Command,
		OSType:     c.OSType,
		Bitness:    c.Bitness,
		Bigmem:     c.Bigmem,
		SMP:        c.SMP,
		Cores:      cores,
		MemoryMiB:  mem,
		ShadowMiB:  mem * 10 / 1024,
		HAP:        hap,
		TimeoutSec: c.TimeoutSec,
		RuntimeSec: c.RuntimeSec,
	}
}

// sampleMem draws a memory size from [low, high] at MemStepMiB granularity,
// never exceeding high.
func (a *Allocator) sampleMem(low, high int64) int64 {
	steps := (high - low) / a.cfg.MemStepMiB
	return low + a.cfg.MemStepMiB*a.rng.Int63n(steps+1)
}

// Finalize marks every guest's schedule entry as done and, for subject-keyed
// runs, advances the host's subject rotation pointer. It is idempotent and
// clears the run's guest list after committing.
func (a *Allocator) Finalize(ctx context.Context, run *Run) error {
	if run == nil || len(run.Guests) == 0 {
		return nil
	}

	ids := make([]int64, len(run.Guests))
	for i, g := range run.Guests {
		ids[i] = g.EntryID
	}
	if err := a.store.MarkEntriesDone(ctx, a.target.Kind, ids); err != nil {
		return fmt.Errorf("failed to mark schedule entries done: %w", err)
	}
	if a.target.Kind == SubjectSchedule {
		if err := a.store.SetLastSubject(ctx, a.host.ID, a.subject.ID); err != nil {
			return fmt.Errorf("failed to update subject rotation pointer: %w", err)
		}
	}

	a.logger.Info("Finalized test run",
		zap.String("run_id", run.ID),
		zap.Int("guests", len(ids)),
	)
	run.Guests = nil
	return nil
}

// macAddress derives a guest NIC address from the host's IPv4 address and
// the 1-based guest number. Unique per host bridge domain, which is all that
// matters.
func macAddress(prefix string, ip net.IP, guestID int) string {
	ip4 := ip.To4()
	return fmt.Sprintf("%s:%02X:%02X:%02X", prefix, ip4[2], ip4[3], guestID&0xFF)
}
