// Package scheduler defines the store interface consumed by the allocator.
package scheduler

import (
	"context"

	"github.com/virtbench/virtbench/internal/domain"
)

// TargetKind selects which of the two schedule tables a run works against.
type TargetKind int

const (
	// HostSchedule keys schedule entries by host.
	HostSchedule TargetKind = iota
	// SubjectSchedule keys schedule entries by test subject.
	SubjectSchedule
)

// String returns the kind name used in logs.
func (k TargetKind) String() string {
	if k == SubjectSchedule {
		return "subject"
	}
	return "host"
}

// TargetRef identifies one scheduling target: a host row or a subject row.
type TargetRef struct {
	Kind TargetKind
	ID   int64
}

// Candidate is the projection of one undone schedule entry joined with its
// image and test metadata, as offered to the picker.
type Candidate struct {
	EntryID    int64
	Image      string
	Format     string
	Test       string
	Command    string
	OSType     string
	Bitness    domain.Bitness
	Bigmem     bool
	SMP        bool
	TimeoutSec int
	RuntimeSec int
}

// Store is the catalog access needed by the allocator. All queries that
// involve images implicitly restrict to enabled images whose bitness the
// target supports.
type Store interface {
	// HostByName resolves a host row; domain.ErrNotFound if unknown.
	HostByName(ctx context.Context, name string) (*domain.Host, error)

	// SubjectByName resolves a subject by name and bitness;
	// domain.ErrNotFound if unknown.
	SubjectByName(ctx context.Context, name string, bitness domain.Bitness) (*domain.Subject, error)

	// NextSubject returns the enabled subject with the smallest ID greater
	// than afterID that has schedule entries; domain.ErrNotFound if none.
	NextSubject(ctx context.Context, afterID int64) (*domain.Subject, error)

	// NextVendor returns the smallest vendor ID greater than afterVendorID
	// that has at least one schedule entry for the target whose image is
	// enabled, bitness-compatible, and not in excludedImages;
	// domain.ErrNotFound if none. Completion flags are not considered.
	NextVendor(ctx context.Context, target TargetRef, excludedImages []string, afterVendorID int64) (int64, error)

	// CountUndoneEntries counts not-done schedule entries for (target,
	// vendor) whose image is eligible and not in excludedImages. A nil
	// excludedImages ignores the exclusion.
	CountUndoneEntries(ctx context.Context, target TargetRef, vendorID int64, excludedImages []string) (int, error)

	// ListDoneEntries returns the IDs of done schedule entries for (target,
	// vendor) whose image is eligible and not in excludedImages. A nil
	// excludedImages ignores the exclusion.
	ListDoneEntries(ctx context.Context, target TargetRef, vendorID int64, excludedImages []string) ([]int64, error)

	// ResetEntries clears the completion flag of the given entries.
	ResetEntries(ctx context.Context, kind TargetKind, entryIDs []int64) error

	// MarkEntriesDone sets the completion flag of the given entries.
	// Re-marking a done entry is a no-op.
	MarkEntriesDone(ctx context.Context, kind TargetKind, entryIDs []int64) error

	// ListCandidates returns all undone, eligible, non-excluded schedule
	// entries for (target, vendor) joined with image and test metadata.
	ListCandidates(ctx context.Context, target TargetRef, vendorID int64, excludedImages []string) ([]Candidate, error)

	// SetLastVendor persists the rotation pointer on the target row.
	SetLastVendor(ctx context.Context, target TargetRef, vendorID int64) error

	// SetLastSubject persists the subject rotation pointer on the host row.
	SetLastSubject(ctx context.Context, hostID, subjectID int64) error
}
