// Package memory provides an in-memory store for testing and development.
// It implements both the catalog repository and the scheduler store against
// the same data, with the same materialization and cascade semantics as the
// PostgreSQL implementation.
package memory

import (
	"context"
	"sync"

	"github.com/virtbench/virtbench/internal/catalog"
	"github.com/virtbench/virtbench/internal/domain"
	"github.com/virtbench/virtbench/internal/scheduler"
)

// Store holds all catalog entities and schedule entries in memory.
type Store struct {
	mu sync.RWMutex

	hosts    []*domain.Host
	subjects []*domain.Subject
	vendors  []*domain.Vendor
	osTypes  []*domain.OSType
	images   []*domain.Image
	tests    []*domain.Test

	hostEntries    []*domain.ScheduleEntry
	subjectEntries []*domain.ScheduleEntry

	nextID int64
}

var (
	_ catalog.Repository = (*Store)(nil)
	_ scheduler.Store    = (*Store)(nil)
)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// materializeHost adds one undone entry per (test, image) pair sharing an
// OS type. Eligibility (enabled flag, bitness) is evaluated at query time.
func (s *Store) materializeHost(hostID int64) {
	for _, t := range s.tests {
		for _, img := range s.images {
			if img.OSTypeID != t.OSTypeID {
				continue
			}
			s.hostEntries = append(s.hostEntries, &domain.ScheduleEntry{
				ID:       s.id(),
				TargetID: hostID,
				TestID:   t.ID,
				ImageID:  img.ID,
			})
		}
	}
}

func (s *Store) materializeSubject(subjectID int64) {
	for _, t := range s.tests {
		for _, img := range s.images {
			if img.OSTypeID != t.OSTypeID {
				continue
			}
			s.subjectEntries = append(s.subjectEntries, &domain.ScheduleEntry{
				ID:       s.id(),
				TargetID: subjectID,
				TestID:   t.ID,
				ImageID:  img.ID,
			})
		}
	}
}

// materializePair adds entries for one (test, image) pair to every host and
// every subject.
func (s *Store) materializePair(testID, imageID int64) {
	for _, h := range s.hosts {
		s.hostEntries = append(s.hostEntries, &domain.ScheduleEntry{
			ID:       s.id(),
			TargetID: h.ID,
			TestID:   testID,
			ImageID:  imageID,
		})
	}
	for _, sub := range s.subjects {
		s.subjectEntries = append(s.subjectEntries, &domain.ScheduleEntry{
			ID:       s.id(),
			TargetID: sub.ID,
			TestID:   testID,
			ImageID:  imageID,
		})
	}
}

func dropEntries(entries []*domain.ScheduleEntry, drop func(*domain.ScheduleEntry) bool) []*domain.ScheduleEntry {
	kept := entries[:0]
	for _, e := range entries {
		if !drop(e) {
			kept = append(kept, e)
		}
	}
	return kept
}

func (s *Store) dropHostEntries(drop func(*domain.ScheduleEntry) bool) {
	s.hostEntries = dropEntries(s.hostEntries, drop)
}

func (s *Store) dropSubjectEntries(drop func(*domain.ScheduleEntry) bool) {
	s.subjectEntries = dropEntries(s.subjectEntries, drop)
}

func (s *Store) dropAllEntries(drop func(*domain.ScheduleEntry) bool) {
	s.dropHostEntries(drop)
	s.dropSubjectEntries(drop)
}

// CreateHost inserts a host and materializes its schedule.
func (s *Store) CreateHost(_ context.Context, h *domain.Host) (*domain.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.hosts {
		if existing.Name == h.Name {
			return nil, domain.ErrAlreadyExists
		}
	}
	stored := *h
	stored.ID = s.id()
	s.hosts = append(s.hosts, &stored)
	s.materializeHost(stored.ID)

	out := stored
	return &out, nil
}

// DeleteHost removes a host and its schedule entries.
func (s *Store) DeleteHost(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, h := range s.hosts {
		if h.Name == name {
			id := h.ID
			s.hosts = append(s.hosts[:i], s.hosts[i+1:]...)
			s.dropHostEntries(func(e *domain.ScheduleEntry) bool { return e.TargetID == id })
			return nil
		}
	}
	return domain.ErrNotFound
}

// SetHostEnabled flips the scheduling flag of a host.
func (s *Store) SetHostEnabled(_ context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.hosts {
		if h.Name == name {
			h.Enabled = enabled
			return nil
		}
	}
	return domain.ErrNotFound
}

// ListHosts returns copies of all hosts in insertion order.
func (s *Store) ListHosts(_ context.Context) ([]*domain.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		c := *h
		out = append(out, &c)
	}
	return out, nil
}

// CreateSubject inserts a subject and materializes its schedule.
func (s *Store) CreateSubject(_ context.Context, sub *domain.Subject) (*domain.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subjects {
		if existing.Name == sub.Name && existing.Bitness == sub.Bitness {
			return nil, domain.ErrAlreadyExists
		}
	}
	stored := *sub
	stored.ID = s.id()
	s.subjects = append(s.subjects, &stored)
	s.materializeSubject(stored.ID)

	out := stored
	return &out, nil
}

// DeleteSubject removes a subject and its schedule entries.
func (s *Store) DeleteSubject(_ context.Context, name string, bitness domain.Bitness) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subjects {
		if sub.Name == name && sub.Bitness == bitness {
			id := sub.ID
			s.subjects = append(s.subjects[:i], s.subjects[i+1:]...)
			s.dropSubjectEntries(func(e *domain.ScheduleEntry) bool { return e.TargetID == id })
			return nil
		}
	}
	return domain.ErrNotFound
}

// SetSubjectEnabled flips the scheduling flag of a subject.
func (s *Store) SetSubjectEnabled(_ context.Context, name string, bitness domain.Bitness, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subjects {
		if sub.Name == name && sub.Bitness == bitness {
			sub.Enabled = enabled
			return nil
		}
	}
	return domain.ErrNotFound
}

// ListSubjects returns copies of all subjects in insertion order.
func (s *Store) ListSubjects(_ context.Context) ([]*domain.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Subject, 0, len(s.subjects))
	for _, sub := range s.subjects {
		c := *sub
		out = append(out, &c)
	}
	return out, nil
}

// CreateVendor inserts a vendor.
func (s *Store) CreateVendor(_ context.Context, name string) (*domain.Vendor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.vendors {
		if v.Name == name {
			return nil, domain.ErrAlreadyExists
		}
	}
	v := &domain.Vendor{ID: s.id(), Name: name}
	s.vendors = append(s.vendors, v)

	out := *v
	return &out, nil
}

// DeleteVendor removes a vendor, its images, and their schedule entries.
func (s *Store) DeleteVendor(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, v := range s.vendors {
		if v.Name == name {
			id := v.ID
			s.vendors = append(s.vendors[:i], s.vendors[i+1:]...)
			s.deleteImagesLocked(func(img *domain.Image) bool { return img.VendorID == id })
			return nil
		}
	}
	return domain.ErrNotFound
}

// ListVendors returns copies of all vendors in insertion order.
func (s *Store) ListVendors(_ context.Context) ([]*domain.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Vendor, 0, len(s.vendors))
	for _, v := range s.vendors {
		c := *v
		out = append(out, &c)
	}
	return out, nil
}

// CreateOSType inserts an OS type.
func (s *Store) CreateOSType(_ context.Context, name string) (*domain.OSType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.osTypes {
		if t.Name == name {
			return nil, domain.ErrAlreadyExists
		}
	}
	t := &domain.OSType{ID: s.id(), Name: name}
	s.osTypes = append(s.osTypes, t)

	out := *t
	return &out, nil
}

// DeleteOSType removes an OS type with its images, tests, and entries.
func (s *Store) DeleteOSType(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.osTypes {
		if t.Name == name {
			id := t.ID
			s.osTypes = append(s.osTypes[:i], s.osTypes[i+1:]...)
			s.deleteImagesLocked(func(img *domain.Image) bool { return img.OSTypeID == id })
			s.deleteTestsLocked(func(tst *domain.Test) bool { return tst.OSTypeID == id })
			return nil
		}
	}
	return domain.ErrNotFound
}

// ListOSTypes returns copies of all OS types in insertion order.
func (s *Store) ListOSTypes(_ context.Context) ([]*domain.OSType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.OSType, 0, len(s.osTypes))
	for _, t := range s.osTypes {
		c := *t
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) deleteImagesLocked(match func(*domain.Image) bool) {
	removed := make(map[int64]bool)
	kept := s.images[:0]
	for _, img := range s.images {
		if match(img) {
			removed[img.ID] = true
		} else {
			kept = append(kept, img)
		}
	}
	s.images = kept
	if len(removed) > 0 {
		s.dropAllEntries(func(e *domain.ScheduleEntry) bool { return removed[e.ImageID] })
	}
}

func (s *Store) deleteTestsLocked(match func(*domain.Test) bool) {
	removed := make(map[int64]bool)
	kept := s.tests[:0]
	for _, t := range s.tests {
		if match(t) {
			removed[t.ID] = true
		} else {
			kept = append(kept, t)
		}
	}
	s.tests = kept
	if len(removed) > 0 {
		s.dropAllEntries(func(e *domain.ScheduleEntry) bool { return removed[e.TestID] })
	}
}

// CreateImage inserts an image and materializes entries for every test with
// the same OS type on each host and subject.
func (s *Store) CreateImage(_ context.Context, img *domain.Image, vendorName, osTypeName string) (*domain.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.images {
		if existing.Name == img.Name {
			return nil, domain.ErrAlreadyExists
		}
	}
	var vendorID, osTypeID int64
	for _, v := range s.vendors {
		if v.Name == vendorName {
			vendorID = v.ID
		}
	}
	for _, t := range s.osTypes {
		if t.Name == osTypeName {
			osTypeID = t.ID
		}
	}
	if vendorID == 0 || osTypeID == 0 {
		return nil, domain.ErrNotFound
	}

	stored := *img
	stored.ID = s.id()
	stored.VendorID = vendorID
	stored.OSTypeID = osTypeID
	s.images = append(s.images, &stored)
	for _, t := range s.tests {
		if t.OSTypeID == osTypeID {
			s.materializePair(t.ID, stored.ID)
		}
	}

	out := stored
	return &out, nil
}

// DeleteImage removes an image and its schedule entries.
func (s *Store) DeleteImage(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	s.deleteImagesLocked(func(img *domain.Image) bool {
		if img.Name == name {
			found = true
			return true
		}
		return false
	})
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

// SetImageEnabled flips the scheduling flag of an image.
func (s *Store) SetImageEnabled(_ context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, img := range s.images {
		if img.Name == name {
			img.Enabled = enabled
			return nil
		}
	}
	return domain.ErrNotFound
}

// ListImages returns copies of all images with resolved vendor and OS type
// names, in insertion order.
func (s *Store) ListImages(_ context.Context) ([]*catalog.ImageInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vendorNames := make(map[int64]string, len(s.vendors))
	for _, v := range s.vendors {
		vendorNames[v.ID] = v.Name
	}
	osTypeNames := make(map[int64]string, len(s.osTypes))
	for _, t := range s.osTypes {
		osTypeNames[t.ID] = t.Name
	}

	out := make([]*catalog.ImageInfo, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, &catalog.ImageInfo{
			Image:  *img,
			Vendor: vendorNames[img.VendorID],
			OSType: osTypeNames[img.OSTypeID],
		})
	}
	return out, nil
}

// CreateTest inserts a test and materializes entries for every image with
// the same OS type on each host and subject.
func (s *Store) CreateTest(_ context.Context, t *domain.Test, osTypeName string) (*domain.Test, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var osTypeID int64
	for _, ot := range s.osTypes {
		if ot.Name == osTypeName {
			osTypeID = ot.ID
		}
	}
	if osTypeID == 0 {
		return nil, domain.ErrNotFound
	}
	for _, existing := range s.tests {
		if existing.Name == t.Name && existing.OSTypeID == osTypeID {
			return nil, domain.ErrAlreadyExists
		}
	}

	stored := *t
	stored.ID = s.id()
	stored.OSTypeID = osTypeID
	s.tests = append(s.tests, &stored)
	for _, img := range s.images {
		if img.OSTypeID == osTypeID {
			s.materializePair(stored.ID, img.ID)
		}
	}

	out := stored
	return &out, nil
}

// DeleteTest removes a test and its schedule entries.
func (s *Store) DeleteTest(_ context.Context, name, osTypeName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var osTypeID int64
	for _, ot := range s.osTypes {
		if ot.Name == osTypeName {
			osTypeID = ot.ID
		}
	}
	found := false
	s.deleteTestsLocked(func(t *domain.Test) bool {
		if t.Name == name && t.OSTypeID == osTypeID {
			found = true
			return true
		}
		return false
	})
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

// ListTests returns copies of all tests with resolved OS type names, in
// insertion order.
func (s *Store) ListTests(_ context.Context) ([]*catalog.TestInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	osTypeNames := make(map[int64]string, len(s.osTypes))
	for _, t := range s.osTypes {
		osTypeNames[t.ID] = t.Name
	}

	out := make([]*catalog.TestInfo, 0, len(s.tests))
	for _, t := range s.tests {
		out = append(out, &catalog.TestInfo{
			Test:   *t,
			OSType: osTypeNames[t.OSTypeID],
		})
	}
	return out, nil
}
