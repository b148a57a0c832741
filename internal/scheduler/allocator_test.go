package scheduler_test

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"testing"

	"go.uber.org/zap"

	"github.com/virtbench/virtbench/internal/domain"
	"github.com/virtbench/virtbench/internal/repository/memory"
	"github.com/virtbench/virtbench/internal/scheduler"
)

var testResolver = scheduler.ResolverFunc(func(ctx context.Context, host string) (net.IP, error) {
	return net.IPv4(192, 168, 77, 42), nil
})

func testOpts(seed int64) []scheduler.Option {
	return []scheduler.Option{
		scheduler.WithRand(rand.New(rand.NewSource(seed))),
		scheduler.WithResolver(testResolver),
	}
}

type fixture struct {
	store *memory.Store
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{store: memory.NewStore(), ctx: context.Background()}
}

func (f *fixture) vendor(t *testing.T, name string) *domain.Vendor {
	t.Helper()
	v, err := f.store.CreateVendor(f.ctx, name)
	if err != nil {
		t.Fatalf("CreateVendor(%q): %v", name, err)
	}
	return v
}

func (f *fixture) osType(t *testing.T, name string) {
	t.Helper()
	if _, err := f.store.CreateOSType(f.ctx, name); err != nil {
		t.Fatalf("CreateOSType(%q): %v", name, err)
	}
}

func (f *fixture) test(t *testing.T, name, osType string) {
	t.Helper()
	_, err := f.store.CreateTest(f.ctx, &domain.Test{
		Name:       name,
		Command:    "/opt/" + name + "/run",
		TimeoutSec: 36000,
		RuntimeSec: 28800,
	}, osType)
	if err != nil {
		t.Fatalf("CreateTest(%q): %v", name, err)
	}
}

func (f *fixture) image(t *testing.T, name, vendor string, bitness domain.Bitness, bigmem, smp bool) {
	t.Helper()
	_, err := f.store.CreateImage(f.ctx, &domain.Image{
		Name:    name,
		Format:  "raw",
		Bitness: bitness,
		Bigmem:  bigmem,
		SMP:     smp,
		Enabled: true,
	}, vendor, "linux")
	if err != nil {
		t.Fatalf("CreateImage(%q): %v", name, err)
	}
}

func (f *fixture) host(t *testing.T, name string, memMiB int64, cores int, bitness domain.Bitness) *domain.Host {
	t.Helper()
	h, err := f.store.CreateHost(f.ctx, &domain.Host{
		Name:      name,
		MemoryMiB: memMiB,
		Cores:     cores,
		Bitness:   bitness,
		Enabled:   true,
	})
	if err != nil {
		t.Fatalf("CreateHost(%q): %v", name, err)
	}
	return h
}

func (f *fixture) subject(t *testing.T, name string, bitness domain.Bitness) *domain.Subject {
	t.Helper()
	s, err := f.store.CreateSubject(f.ctx, &domain.Subject{
		Name:     name,
		Priority: 100,
		Bitness:  bitness,
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("CreateSubject(%q): %v", name, err)
	}
	return s
}

// seedCatalog creates two vendors with a mix of image capabilities and one
// test program, without any hosts or subjects.
func seedCatalog(t *testing.T, f *fixture) {
	f.osType(t, "linux")
	f.vendor(t, "fedora")
	f.vendor(t, "opensuse")
	f.test(t, "kernbench", "linux")
	f.image(t, "fedora_40_smp.img", "fedora", domain.Bits64, true, true)
	f.image(t, "fedora_40_up.img", "fedora", domain.Bits32, false, false)
	f.image(t, "opensuse_15_up.img", "opensuse", domain.Bits32, false, false)
	f.image(t, "opensuse_15_smp.img", "opensuse", domain.Bits32, false, true)
}

func TestPlanRespectsResourceBudget(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	f.host(t, "bench01", 8192, 4, domain.Bits64)
	cfg := scheduler.DefaultConfig()

	for seed := int64(0); seed < 20; seed++ {
		alloc, err := scheduler.NewHostAllocator(f.ctx, f.store, cfg, zap.NewNop(), "bench01", testOpts(seed)...)
		if err != nil {
			t.Fatalf("NewHostAllocator: %v", err)
		}
		run, err := alloc.Plan(f.ctx)
		if err != nil {
			t.Fatalf("Plan (seed %d): %v", seed, err)
		}
		if len(run.Guests) == 0 {
			t.Fatalf("Plan (seed %d) produced no guests", seed)
		}

		var memSum int64
		coreSum := 0
		for _, g := range run.Guests {
			if g.MemoryMiB < cfg.MinGuestMemMiB {
				t.Errorf("seed %d: guest %q got %d MiB, below minimum", seed, g.Image, g.MemoryMiB)
			}
			if g.MemoryMiB%cfg.MemStepMiB != 0 {
				t.Errorf("seed %d: guest %q memory %d not a multiple of %d", seed, g.Image, g.MemoryMiB, cfg.MemStepMiB)
			}
			if g.Cores < 1 {
				t.Errorf("seed %d: guest %q got %d cores", seed, g.Image, g.Cores)
			}
			if g.ShadowMiB != g.MemoryMiB*10/1024 {
				t.Errorf("seed %d: guest %q shadow %d, want %d", seed, g.Image, g.ShadowMiB, g.MemoryMiB*10/1024)
			}
			memSum += g.MemoryMiB
			coreSum += g.Cores
		}
		if memSum > 8192-cfg.ReservedHostMemMiB {
			t.Errorf("seed %d: guests use %d MiB, budget is %d", seed, memSum, 8192-cfg.ReservedHostMemMiB)
		}
		if coreSum > 4+cfg.ExtraCoreSlots {
			t.Errorf("seed %d: guests use %d cores, budget is %d", seed, coreSum, 4+cfg.ExtraCoreSlots)
		}
	}
}

func TestPlanUsesEachImageOnce(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	f.host(t, "bench01", 16384, 8, domain.Bits64)

	alloc, err := scheduler.NewHostAllocator(f.ctx, f.store, scheduler.DefaultConfig(), zap.NewNop(), "bench01", testOpts(7)...)
	if err != nil {
		t.Fatalf("NewHostAllocator: %v", err)
	}
	run, err := alloc.Plan(f.ctx)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	seen := make(map[string]bool)
	for _, g := range run.Guests {
		if seen[g.Image] {
			t.Errorf("image %q scheduled twice in one run", g.Image)
		}
		seen[g.Image] = true
	}
}

func TestPlanAssignsNetworkIdentity(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	f.host(t, "bench01", 8192, 4, domain.Bits64)

	alloc, err := scheduler.NewHostAllocator(f.ctx, f.store, scheduler.DefaultConfig(), zap.NewNop(), "bench01", testOpts(3)...)
	if err != nil {
		t.Fatalf("NewHostAllocator: %v", err)
	}
	run, err := alloc.Plan(f.ctx)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// Resolver returns 192.168.77.42: octets 77 and 42 become 4D and 2A.
	for i, g := range run.Guests {
		if g.Seq != i || g.Display != i {
			t.Errorf("guest %d: seq %d display %d, want %d", i, g.Seq, g.Display, i)
		}
		want := []string{"52:54:00:4D:2A:01", "52:54:00:4D:2A:02", "52:54:00:4D:2A:03",
			"52:54:00:4D:2A:04", "52:54:00:4D:2A:05"}[i%5]
		if g.MAC != want {
			t.Errorf("guest %d: MAC %q, want %q", i, g.MAC, want)
		}
	}
}

func TestPlanAlternatesVendors(t *testing.T) {
	f := newFixture(t)
	f.osType(t, "linux")
	f.vendor(t, "fedora")
	f.vendor(t, "opensuse")
	f.test(t, "kernbench", "linux")
	f.image(t, "fedora.img", "fedora", domain.Bits32, false, false)
	f.image(t, "opensuse.img", "opensuse", domain.Bits32, false, false)
	f.host(t, "bench01", 3072, 4, domain.Bits64)

	// One memory step of 2048 makes every guest exactly 1024 MiB, so the
	// 2048 MiB budget yields exactly two guests.
	cfg := scheduler.DefaultConfig()
	cfg.MemStepMiB = 2048

	alloc, err := scheduler.NewHostAllocator(f.ctx, f.store, cfg, zap.NewNop(), "bench01", testOpts(1)...)
	if err != nil {
		t.Fatalf("NewHostAllocator: %v", err)
	}
	run, err := alloc.Plan(f.ctx)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(run.Guests) != 2 {
		t.Fatalf("got %d guests, want 2", len(run.Guests))
	}
	if run.Guests[0].Image != "fedora.img" || run.Guests[1].Image != "opensuse.img" {
		t.Errorf("got images %q, %q; want fedora.img then opensuse.img",
			run.Guests[0].Image, run.Guests[1].Image)
	}
}

func TestVendorRotationWrapsAround(t *testing.T) {
	f := newFixture(t)
	f.osType(t, "linux")
	v1 := f.vendor(t, "fedora")
	v2 := f.vendor(t, "opensuse")
	f.test(t, "kernbench", "linux")
	f.image(t, "fedora.img", "fedora", domain.Bits32, false, false)
	f.image(t, "opensuse.img", "opensuse", domain.Bits32, false, false)
	h := f.host(t, "bench01", 2048, 1, domain.Bits64)

	target := scheduler.TargetRef{Kind: scheduler.HostSchedule, ID: h.ID}
	if err := f.store.SetLastVendor(f.ctx, target, v2.ID); err != nil {
		t.Fatalf("SetLastVendor: %v", err)
	}

	alloc, err := scheduler.NewHostAllocator(f.ctx, f.store, scheduler.DefaultConfig(), zap.NewNop(), "bench01", testOpts(1)...)
	if err != nil {
		t.Fatalf("NewHostAllocator: %v", err)
	}
	run, err := alloc.Plan(f.ctx)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// The pointer sat on the highest vendor ID, so the rotation must wrap
	// to the lowest.
	if len(run.Guests) != 1 || run.Guests[0].Image != "fedora.img" {
		t.Fatalf("expected one guest from vendor %d, got %+v", v1.ID, run.Guests)
	}

	hh, err := f.store.HostByName(f.ctx, "bench01")
	if err != nil {
		t.Fatalf("HostByName: %v", err)
	}
	if hh.LastVendorID != v1.ID {
		t.Errorf("rotation pointer is %d, want %d", hh.LastVendorID, v1.ID)
	}
}

func TestFairnessResetsExhaustedVendor(t *testing.T) {
	f := newFixture(t)
	f.osType(t, "linux")
	v := f.vendor(t, "fedora")
	f.test(t, "kernbench", "linux")
	f.image(t, "fedora.img", "fedora", domain.Bits32, false, false)
	h := f.host(t, "bench01", 2048, 1, domain.Bits64)

	target := scheduler.TargetRef{Kind: scheduler.HostSchedule, ID: h.ID}
	cands, err := f.store.ListCandidates(f.ctx, target, v.ID, nil)
	if err != nil || len(cands) != 1 {
		t.Fatalf("ListCandidates: %v (%d entries)", err, len(cands))
	}
	if err := f.store.MarkEntriesDone(f.ctx, scheduler.HostSchedule, []int64{cands[0].EntryID}); err != nil {
		t.Fatalf("MarkEntriesDone: %v", err)
	}

	alloc, err := scheduler.NewHostAllocator(f.ctx, f.store, scheduler.DefaultConfig(), zap.NewNop(), "bench01", testOpts(1)...)
	if err != nil {
		t.Fatalf("NewHostAllocator: %v", err)
	}
	run, err := alloc.Plan(f.ctx)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(run.Guests) != 1 || run.Guests[0].Image != "fedora.img" {
		t.Fatalf("exhausted vendor was not reset, got %+v", run.Guests)
	}
}

func TestFairnessUnlocksOneCollidingEntry(t *testing.T) {
	f := newFixture(t)
	f.osType(t, "linux")
	v := f.vendor(t, "fedora")
	f.test(t, "kernbench", "linux")
	f.image(t, "fedora_a.img", "fedora", domain.Bits32, false, false)
	f.image(t, "fedora_b.img", "fedora", domain.Bits32, false, false)
	h := f.host(t, "bench01", 3072, 4, domain.Bits64)

	// Mark image B's entry done, leaving image A the only undone work.
	target := scheduler.TargetRef{Kind: scheduler.HostSchedule, ID: h.ID}
	done, err := f.store.ListCandidates(f.ctx, target, v.ID, []string{"fedora_a.img"})
	if err != nil || len(done) != 1 {
		t.Fatalf("ListCandidates: %v (%d entries)", err, len(done))
	}
	if err := f.store.MarkEntriesDone(f.ctx, scheduler.HostSchedule, []int64{done[0].EntryID}); err != nil {
		t.Fatalf("MarkEntriesDone: %v", err)
	}

	cfg := scheduler.DefaultConfig()
	cfg.MemStepMiB = 2048

	alloc, err := scheduler.NewHostAllocator(f.ctx, f.store, cfg, zap.NewNop(), "bench01", testOpts(1)...)
	if err != nil {
		t.Fatalf("NewHostAllocator: %v", err)
	}
	run, err := alloc.Plan(f.ctx)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// After image A is taken, the vendor's remaining undone work collides
	// with it; the done entry for image B must be unlocked and scheduled.
	if len(run.Guests) != 2 {
		t.Fatalf("got %d guests, want 2", len(run.Guests))
	}
	if run.Guests[0].Image != "fedora_a.img" || run.Guests[1].Image != "fedora_b.img" {
		t.Errorf("got images %q, %q; want fedora_a.img then fedora_b.img",
			run.Guests[0].Image, run.Guests[1].Image)
	}
}

func TestPlanNothingToSchedule(t *testing.T) {
	f := newFixture(t)
	f.osType(t, "linux")
	f.vendor(t, "fedora")
	f.test(t, "kernbench", "linux")
	f.image(t, "fedora64.img", "fedora", domain.Bits64, true, true)
	f.host(t, "bench01", 4096, 2, domain.Bits32)

	alloc, err := scheduler.NewHostAllocator(f.ctx, f.store, scheduler.DefaultConfig(), zap.NewNop(), "bench01", testOpts(1)...)
	if err != nil {
		t.Fatalf("NewHostAllocator: %v", err)
	}
	// The only image needs a 64-bit target.
	if _, err := alloc.Plan(f.ctx); !errors.Is(err, domain.ErrNothingToSchedule) {
		t.Fatalf("Plan: got %v, want ErrNothingToSchedule", err)
	}
}

func TestDisabledTargetsAreRejected(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	f.host(t, "bench01", 4096, 2, domain.Bits64)
	f.subject(t, "xen-4.1", domain.Bits64)

	if err := f.store.SetHostEnabled(f.ctx, "bench01", false); err != nil {
		t.Fatalf("SetHostEnabled: %v", err)
	}
	_, err := scheduler.NewHostAllocator(f.ctx, f.store, scheduler.DefaultConfig(), zap.NewNop(), "bench01", testOpts(1)...)
	if !errors.Is(err, domain.ErrDisabled) {
		t.Fatalf("disabled host: got %v, want ErrDisabled", err)
	}

	if err := f.store.SetHostEnabled(f.ctx, "bench01", true); err != nil {
		t.Fatalf("SetHostEnabled: %v", err)
	}
	if err := f.store.SetSubjectEnabled(f.ctx, "xen-4.1", domain.Bits64, false); err != nil {
		t.Fatalf("SetSubjectEnabled: %v", err)
	}
	_, err = scheduler.NewSubjectAllocator(f.ctx, f.store, scheduler.DefaultConfig(), zap.NewNop(),
		"bench01", "xen-4.1", domain.Bits64, testOpts(1)...)
	if !errors.Is(err, domain.ErrDisabled) {
		t.Fatalf("disabled subject: got %v, want ErrDisabled", err)
	}
}

func TestUnknownTargetsAreRejected(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	f.host(t, "bench01", 4096, 2, domain.Bits64)

	_, err := scheduler.NewHostAllocator(f.ctx, f.store, scheduler.DefaultConfig(), zap.NewNop(), "ghost", testOpts(1)...)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown host: got %v, want ErrNotFound", err)
	}

	_, err = scheduler.NewSubjectAllocator(f.ctx, f.store, scheduler.DefaultConfig(), zap.NewNop(),
		"bench01", "kvm-ghost", domain.Bits64, testOpts(1)...)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown subject: got %v, want ErrNotFound", err)
	}
}

func TestFinalizeCommitsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.osType(t, "linux")
	v := f.vendor(t, "fedora")
	f.test(t, "kernbench", "linux")
	f.image(t, "fedora.img", "fedora", domain.Bits32, false, false)
	h := f.host(t, "bench01", 2048, 1, domain.Bits64)

	alloc, err := scheduler.NewHostAllocator(f.ctx, f.store, scheduler.DefaultConfig(), zap.NewNop(), "bench01", testOpts(1)...)
	if err != nil {
		t.Fatalf("NewHostAllocator: %v", err)
	}
	run, err := alloc.Plan(f.ctx)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if err := alloc.Finalize(f.ctx, run); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if run.Guests != nil {
		t.Errorf("Finalize did not clear the guest list")
	}

	target := scheduler.TargetRef{Kind: scheduler.HostSchedule, ID: h.ID}
	undone, err := f.store.CountUndoneEntries(f.ctx, target, v.ID, nil)
	if err != nil {
		t.Fatalf("CountUndoneEntries: %v", err)
	}
	if undone != 0 {
		t.Errorf("%d entries still undone after Finalize", undone)
	}

	// A second Finalize on the same run must be a no-op.
	if err := alloc.Finalize(f.ctx, run); err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if err := alloc.Finalize(f.ctx, nil); err != nil {
		t.Fatalf("Finalize(nil): %v", err)
	}
}

func TestSubjectRotation(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	f.host(t, "bench01", 4096, 2, domain.Bits64)
	s1 := f.subject(t, "xen-4.1", domain.Bits64)
	s2 := f.subject(t, "kvm-6.1", domain.Bits64)

	planOnce := func(want *domain.Subject) {
		t.Helper()
		alloc, err := scheduler.NewSubjectAllocator(f.ctx, f.store, scheduler.DefaultConfig(), zap.NewNop(),
			"bench01", "", 0, testOpts(1)...)
		if err != nil {
			t.Fatalf("NewSubjectAllocator: %v", err)
		}
		run, err := alloc.Plan(f.ctx)
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		if run.Subject == nil || run.Subject.ID != want.ID {
			t.Fatalf("planned subject %+v, want %q", run.Subject, want.Name)
		}
		if err := alloc.Finalize(f.ctx, run); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
	}

	planOnce(s1)
	planOnce(s2)
	// The pointer sits on the last subject; the rotation must wrap around.
	planOnce(s1)
}

func TestSubjectRunsUseSubjectSchedule(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	h := f.host(t, "bench01", 4096, 2, domain.Bits64)
	s := f.subject(t, "xen-4.1", domain.Bits64)

	alloc, err := scheduler.NewSubjectAllocator(f.ctx, f.store, scheduler.DefaultConfig(), zap.NewNop(),
		"bench01", "xen-4.1", domain.Bits64, testOpts(1)...)
	if err != nil {
		t.Fatalf("NewSubjectAllocator: %v", err)
	}
	run, err := alloc.Plan(f.ctx)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if err := alloc.Finalize(f.ctx, run); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// The host's own schedule must be untouched by a subject-keyed run.
	hostTarget := scheduler.TargetRef{Kind: scheduler.HostSchedule, ID: h.ID}
	vendors, err := f.store.ListVendors(f.ctx)
	if err != nil {
		t.Fatalf("ListVendors: %v", err)
	}
	for _, v := range vendors {
		done, err := f.store.ListDoneEntries(f.ctx, hostTarget, v.ID, nil)
		if err != nil {
			t.Fatalf("ListDoneEntries: %v", err)
		}
		if len(done) != 0 {
			t.Errorf("vendor %q: %d host entries marked done by a subject run", v.Name, len(done))
		}
	}

	hh, err := f.store.HostByName(f.ctx, "bench01")
	if err != nil {
		t.Fatalf("HostByName: %v", err)
	}
	if hh.LastSubjectID != s.ID {
		t.Errorf("subject pointer is %d, want %d", hh.LastSubjectID, s.ID)
	}
}
