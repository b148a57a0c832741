package memory

import (
	"context"
	"sort"

	"github.com/virtbench/virtbench/internal/domain"
	"github.com/virtbench/virtbench/internal/scheduler"
)

// HostByName resolves a host row.
func (s *Store) HostByName(_ context.Context, name string) (*domain.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, h := range s.hosts {
		if h.Name == name {
			c := *h
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

// SubjectByName resolves a subject by name and bitness.
func (s *Store) SubjectByName(_ context.Context, name string, bitness domain.Bitness) (*domain.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subjects {
		if sub.Name == name && sub.Bitness == bitness {
			c := *sub
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

// NextSubject returns the enabled subject with the smallest ID greater than
// afterID that has schedule entries.
func (s *Store) NextSubject(_ context.Context, afterID int64) (*domain.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scheduled := make(map[int64]bool)
	for _, e := range s.subjectEntries {
		scheduled[e.TargetID] = true
	}

	var best *domain.Subject
	for _, sub := range s.subjects {
		if !sub.Enabled || sub.ID <= afterID || !scheduled[sub.ID] {
			continue
		}
		if best == nil || sub.ID < best.ID {
			best = sub
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	c := *best
	return &c, nil
}

func (s *Store) entriesLocked(kind scheduler.TargetKind) []*domain.ScheduleEntry {
	if kind == scheduler.SubjectSchedule {
		return s.subjectEntries
	}
	return s.hostEntries
}

func (s *Store) targetBitnessLocked(target scheduler.TargetRef) (domain.Bitness, error) {
	if target.Kind == scheduler.SubjectSchedule {
		for _, sub := range s.subjects {
			if sub.ID == target.ID {
				return sub.Bitness, nil
			}
		}
	} else {
		for _, h := range s.hosts {
			if h.ID == target.ID {
				return h.Bitness, nil
			}
		}
	}
	return 0, domain.ErrNotFound
}

func (s *Store) imagesByIDLocked() map[int64]*domain.Image {
	m := make(map[int64]*domain.Image, len(s.images))
	for _, img := range s.images {
		m[img.ID] = img
	}
	return m
}

func excludeSet(names []string) map[string]bool {
	if names == nil {
		return nil
	}
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func eligible(img *domain.Image, bitness domain.Bitness, excluded map[string]bool) bool {
	if img == nil || !img.Enabled || !bitness.Supports(img.Bitness) {
		return false
	}
	return !excluded[img.Name]
}

// NextVendor returns the smallest vendor ID greater than afterVendorID that
// still has an eligible schedule entry for the target, done or not.
func (s *Store) NextVendor(_ context.Context, target scheduler.TargetRef, excludedImages []string, afterVendorID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bitness, err := s.targetBitnessLocked(target)
	if err != nil {
		return 0, err
	}
	images := s.imagesByIDLocked()
	excluded := excludeSet(excludedImages)

	var best int64
	for _, e := range s.entriesLocked(target.Kind) {
		if e.TargetID != target.ID {
			continue
		}
		img := images[e.ImageID]
		if !eligible(img, bitness, excluded) {
			continue
		}
		if img.VendorID > afterVendorID && (best == 0 || img.VendorID < best) {
			best = img.VendorID
		}
	}
	if best == 0 {
		return 0, domain.ErrNotFound
	}
	return best, nil
}

// CountUndoneEntries counts not-done eligible entries for (target, vendor).
func (s *Store) CountUndoneEntries(_ context.Context, target scheduler.TargetRef, vendorID int64, excludedImages []string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bitness, err := s.targetBitnessLocked(target)
	if err != nil {
		return 0, err
	}
	images := s.imagesByIDLocked()
	excluded := excludeSet(excludedImages)

	count := 0
	for _, e := range s.entriesLocked(target.Kind) {
		if e.TargetID != target.ID || e.Done {
			continue
		}
		img := images[e.ImageID]
		if eligible(img, bitness, excluded) && img.VendorID == vendorID {
			count++
		}
	}
	return count, nil
}

// ListDoneEntries returns the IDs of done eligible entries for (target,
// vendor), in ascending order.
func (s *Store) ListDoneEntries(_ context.Context, target scheduler.TargetRef, vendorID int64, excludedImages []string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bitness, err := s.targetBitnessLocked(target)
	if err != nil {
		return nil, err
	}
	images := s.imagesByIDLocked()
	excluded := excludeSet(excludedImages)

	var ids []int64
	for _, e := range s.entriesLocked(target.Kind) {
		if e.TargetID != target.ID || !e.Done {
			continue
		}
		img := images[e.ImageID]
		if eligible(img, bitness, excluded) && img.VendorID == vendorID {
			ids = append(ids, e.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ResetEntries clears the completion flag of the given entries.
func (s *Store) ResetEntries(_ context.Context, kind scheduler.TargetKind, entryIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[int64]bool, len(entryIDs))
	for _, id := range entryIDs {
		wanted[id] = true
	}
	for _, e := range s.entriesLocked(kind) {
		if wanted[e.ID] {
			e.Done = false
		}
	}
	return nil
}

// MarkEntriesDone sets the completion flag of the given entries.
func (s *Store) MarkEntriesDone(_ context.Context, kind scheduler.TargetKind, entryIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[int64]bool, len(entryIDs))
	for _, id := range entryIDs {
		wanted[id] = true
	}
	for _, e := range s.entriesLocked(kind) {
		if wanted[e.ID] {
			e.Done = true
		}
	}
	return nil
}

// ListCandidates returns all undone eligible entries for (target, vendor)
// joined with image and test metadata, in entry ID order.
func (s *Store) ListCandidates(_ context.Context, target scheduler.TargetRef, vendorID int64, excludedImages []string) ([]scheduler.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bitness, err := s.targetBitnessLocked(target)
	if err != nil {
		return nil, err
	}
	images := s.imagesByIDLocked()
	excluded := excludeSet(excludedImages)

	tests := make(map[int64]*domain.Test, len(s.tests))
	for _, t := range s.tests {
		tests[t.ID] = t
	}
	osTypeNames := make(map[int64]string, len(s.osTypes))
	for _, t := range s.osTypes {
		osTypeNames[t.ID] = t.Name
	}

	var out []scheduler.Candidate
	for _, e := range s.entriesLocked(target.Kind) {
		if e.TargetID != target.ID || e.Done {
			continue
		}
		img := images[e.ImageID]
		if !eligible(img, bitness, excluded) || img.VendorID != vendorID {
			continue
		}
		t := tests[e.TestID]
		if t == nil {
			continue
		}
		out = append(out, scheduler.Candidate{
			EntryID:    e.ID,
			Image:      img.Name,
			Format:     img.Format,
			Test:       t.Name,
			Command:    t.Command,
			OSType:     osTypeNames[img.OSTypeID],
			Bitness:    img.Bitness,
			Bigmem:     img.Bigmem,
			SMP:        img.SMP,
			TimeoutSec: t.TimeoutSec,
			RuntimeSec: t.RuntimeSec,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out, nil
}

// SetLastVendor persists the vendor rotation pointer on the target row.
func (s *Store) SetLastVendor(_ context.Context, target scheduler.TargetRef, vendorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target.Kind == scheduler.SubjectSchedule {
		for _, sub := range s.subjects {
			if sub.ID == target.ID {
				sub.LastVendorID = vendorID
				return nil
			}
		}
	} else {
		for _, h := range s.hosts {
			if h.ID == target.ID {
				h.LastVendorID = vendorID
				return nil
			}
		}
	}
	return domain.ErrNotFound
}

// SetLastSubject persists the subject rotation pointer on the host row.
func (s *Store) SetLastSubject(_ context.Context, hostID, subjectID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.hosts {
		if h.ID == hostID {
			h.LastSubjectID = subjectID
			return nil
		}
	}
	return domain.ErrNotFound
}
