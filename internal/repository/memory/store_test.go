package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/virtbench/virtbench/internal/domain"
	"github.com/virtbench/virtbench/internal/scheduler"
)

func seed(t *testing.T, s *Store) (vendorID int64) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.CreateOSType(ctx, "linux"); err != nil {
		t.Fatalf("CreateOSType: %v", err)
	}
	v, err := s.CreateVendor(ctx, "fedora")
	if err != nil {
		t.Fatalf("CreateVendor: %v", err)
	}
	if _, err := s.CreateTest(ctx, &domain.Test{Name: "kernbench", Command: "/opt/kernbench/run"}, "linux"); err != nil {
		t.Fatalf("CreateTest: %v", err)
	}
	if _, err := s.CreateImage(ctx, &domain.Image{
		Name: "fedora-40.img", Format: "raw", Bitness: domain.Bits32, Enabled: true,
	}, "fedora", "linux"); err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	return v.ID
}

func hostTarget(t *testing.T, s *Store, name string) scheduler.TargetRef {
	t.Helper()
	h, err := s.HostByName(context.Background(), name)
	if err != nil {
		t.Fatalf("HostByName(%q): %v", name, err)
	}
	return scheduler.TargetRef{Kind: scheduler.HostSchedule, ID: h.ID}
}

func TestCreateHostMaterializesSchedule(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	vendorID := seed(t, s)

	if _, err := s.CreateHost(ctx, &domain.Host{
		Name: "bench01", MemoryMiB: 2048, Cores: 1, Bitness: domain.Bits64, Enabled: true,
	}); err != nil {
		t.Fatalf("CreateHost: %v", err)
	}

	cands, err := s.ListCandidates(ctx, hostTarget(t, s, "bench01"), vendorID, nil)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("host has %d schedule entries, want 1", len(cands))
	}
	c := cands[0]
	if c.Image != "fedora-40.img" || c.Test != "kernbench" || c.OSType != "linux" {
		t.Errorf("unexpected candidate: %+v", c)
	}
}

func TestLateCatalogAdditionsExtendSchedules(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	vendorID := seed(t, s)

	if _, err := s.CreateHost(ctx, &domain.Host{
		Name: "bench01", MemoryMiB: 2048, Cores: 1, Bitness: domain.Bits64, Enabled: true,
	}); err != nil {
		t.Fatalf("CreateHost: %v", err)
	}
	if _, err := s.CreateSubject(ctx, &domain.Subject{
		Name: "xen-4.1", Priority: 100, Bitness: domain.Bits64, Enabled: true,
	}); err != nil {
		t.Fatalf("CreateSubject: %v", err)
	}

	// Adding an image after host and subject exist must extend both
	// schedules with the full set of matching tests.
	if _, err := s.CreateImage(ctx, &domain.Image{
		Name: "fedora-41.img", Format: "qcow2", Bitness: domain.Bits32, Enabled: true,
	}, "fedora", "linux"); err != nil {
		t.Fatalf("CreateImage: %v", err)
	}

	cands, err := s.ListCandidates(ctx, hostTarget(t, s, "bench01"), vendorID, nil)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(cands) != 2 {
		t.Errorf("host has %d entries after image addition, want 2", len(cands))
	}

	sub, err := s.SubjectByName(ctx, "xen-4.1", domain.Bits64)
	if err != nil {
		t.Fatalf("SubjectByName: %v", err)
	}
	subTarget := scheduler.TargetRef{Kind: scheduler.SubjectSchedule, ID: sub.ID}
	cands, err = s.ListCandidates(ctx, subTarget, vendorID, nil)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(cands) != 2 {
		t.Errorf("subject has %d entries after image addition, want 2", len(cands))
	}

	// A second test with the same OS type doubles the pairings.
	if _, err := s.CreateTest(ctx, &domain.Test{Name: "ltp", Command: "/opt/ltp/run"}, "linux"); err != nil {
		t.Fatalf("CreateTest: %v", err)
	}
	cands, err = s.ListCandidates(ctx, hostTarget(t, s, "bench01"), vendorID, nil)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(cands) != 4 {
		t.Errorf("host has %d entries after test addition, want 4", len(cands))
	}
}

func TestDeleteImageDropsScheduleEntries(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	vendorID := seed(t, s)

	if _, err := s.CreateHost(ctx, &domain.Host{
		Name: "bench01", MemoryMiB: 2048, Cores: 1, Bitness: domain.Bits64, Enabled: true,
	}); err != nil {
		t.Fatalf("CreateHost: %v", err)
	}
	if err := s.DeleteImage(ctx, "fedora-40.img"); err != nil {
		t.Fatalf("DeleteImage: %v", err)
	}

	cands, err := s.ListCandidates(ctx, hostTarget(t, s, "bench01"), vendorID, nil)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("%d schedule entries survived image deletion", len(cands))
	}
	if _, err := s.NextVendor(ctx, hostTarget(t, s, "bench01"), nil, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("NextVendor after deletion: got %v, want ErrNotFound", err)
	}
}

func TestEligibilityFiltering(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	vendorID := seed(t, s)

	// A 64-bit image is invisible to a 32-bit host but not to a 64-bit one.
	if _, err := s.CreateImage(ctx, &domain.Image{
		Name: "fedora-40_64b.img", Format: "raw", Bitness: domain.Bits64, Bigmem: true, Enabled: true,
	}, "fedora", "linux"); err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	if _, err := s.CreateHost(ctx, &domain.Host{
		Name: "small32", MemoryMiB: 2048, Cores: 1, Bitness: domain.Bits32, Enabled: true,
	}); err != nil {
		t.Fatalf("CreateHost: %v", err)
	}

	target := hostTarget(t, s, "small32")
	cands, err := s.ListCandidates(ctx, target, vendorID, nil)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(cands) != 1 || cands[0].Image != "fedora-40.img" {
		t.Fatalf("32-bit host sees %+v, want only the 32-bit image", cands)
	}

	// Disabled images drop out of every schedule query.
	if err := s.SetImageEnabled(ctx, "fedora-40.img", false); err != nil {
		t.Fatalf("SetImageEnabled: %v", err)
	}
	if n, err := s.CountUndoneEntries(ctx, target, vendorID, nil); err != nil || n != 0 {
		t.Errorf("CountUndoneEntries = %d, %v; want 0 after disabling", n, err)
	}

	// Exclusion by name hides an entry without touching its done flag.
	if err := s.SetImageEnabled(ctx, "fedora-40.img", true); err != nil {
		t.Fatalf("SetImageEnabled: %v", err)
	}
	if n, err := s.CountUndoneEntries(ctx, target, vendorID, []string{"fedora-40.img"}); err != nil || n != 0 {
		t.Errorf("CountUndoneEntries = %d, %v; want 0 under exclusion", n, err)
	}
	if n, err := s.CountUndoneEntries(ctx, target, vendorID, nil); err != nil || n != 1 {
		t.Errorf("CountUndoneEntries = %d, %v; want 1 without exclusion", n, err)
	}
}

func TestDoneFlagLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	vendorID := seed(t, s)

	if _, err := s.CreateHost(ctx, &domain.Host{
		Name: "bench01", MemoryMiB: 2048, Cores: 1, Bitness: domain.Bits64, Enabled: true,
	}); err != nil {
		t.Fatalf("CreateHost: %v", err)
	}
	target := hostTarget(t, s, "bench01")

	cands, err := s.ListCandidates(ctx, target, vendorID, nil)
	if err != nil || len(cands) != 1 {
		t.Fatalf("ListCandidates: %v (%d)", err, len(cands))
	}
	id := cands[0].EntryID

	if err := s.MarkEntriesDone(ctx, scheduler.HostSchedule, []int64{id}); err != nil {
		t.Fatalf("MarkEntriesDone: %v", err)
	}
	done, err := s.ListDoneEntries(ctx, target, vendorID, nil)
	if err != nil || len(done) != 1 || done[0] != id {
		t.Fatalf("ListDoneEntries = %v, %v", done, err)
	}

	// Done entries still keep their vendor visible for the rotation.
	if v, err := s.NextVendor(ctx, target, nil, 0); err != nil || v != vendorID {
		t.Errorf("NextVendor = %d, %v; want %d", v, err, vendorID)
	}

	if err := s.ResetEntries(ctx, scheduler.HostSchedule, []int64{id}); err != nil {
		t.Fatalf("ResetEntries: %v", err)
	}
	if n, err := s.CountUndoneEntries(ctx, target, vendorID, nil); err != nil || n != 1 {
		t.Errorf("CountUndoneEntries after reset = %d, %v; want 1", n, err)
	}
}

func TestDuplicateCatalogRows(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s)

	if _, err := s.CreateVendor(ctx, "fedora"); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate vendor: got %v", err)
	}
	if _, err := s.CreateOSType(ctx, "linux"); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate OS type: got %v", err)
	}
	if _, err := s.CreateImage(ctx, &domain.Image{Name: "fedora-40.img"}, "fedora", "linux"); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate image: got %v", err)
	}
	if _, err := s.CreateTest(ctx, &domain.Test{Name: "kernbench"}, "linux"); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate test: got %v", err)
	}
}
