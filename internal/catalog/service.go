package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/virtbench/virtbench/internal/domain"
)

// Default test program budgets, in seconds.
const (
	DefaultTestTimeoutSec = 36000
	DefaultTestRuntimeSec = 28800
)

// DefaultSubjectPriority is the queue bandwidth assigned to new subjects.
const DefaultSubjectPriority = 100

// Service validates operator input and manages catalog entities. All input
// is rejected before any store mutation happens.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a new catalog service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With(zap.String("component", "catalog")),
	}
}

// AddHost registers a test machine. Memory accepts M/MB/G/GB suffixes.
func (s *Service) AddHost(ctx context.Context, name, memory, cores, bitness string) (*domain.Host, error) {
	if err := checkHostname(name); err != nil {
		return nil, err
	}
	mem, err := parseMemoryMiB(memory)
	if err != nil {
		return nil, err
	}
	n, err := parseCores(cores)
	if err != nil {
		return nil, err
	}
	bits, err := domain.ParseBitness(bitness)
	if err != nil {
		return nil, err
	}

	h, err := s.repo.CreateHost(ctx, &domain.Host{
		Name:      name,
		MemoryMiB: mem,
		Cores:     n,
		Bitness:   bits,
		Enabled:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add host %q: %w", name, err)
	}
	s.logger.Info("Added host", zap.String("name", name), zap.Int64("memory_mib", mem), zap.Int("cores", n))
	return h, nil
}

// DeleteHost removes a host and all its schedule entries.
func (s *Service) DeleteHost(ctx context.Context, name string) error {
	if err := checkHostname(name); err != nil {
		return err
	}
	if err := s.repo.DeleteHost(ctx, name); err != nil {
		return fmt.Errorf("failed to delete host %q: %w", name, err)
	}
	s.logger.Info("Deleted host", zap.String("name", name))
	return nil
}

// SetHostState enables or disables a host for scheduling.
func (s *Service) SetHostState(ctx context.Context, name, state string) error {
	if err := checkHostname(name); err != nil {
		return err
	}
	enabled, err := parseState(state)
	if err != nil {
		return err
	}
	if err := s.repo.SetHostEnabled(ctx, name, enabled); err != nil {
		return fmt.Errorf("failed to update host %q: %w", name, err)
	}
	s.logger.Info("Updated host state", zap.String("name", name), zap.Bool("enabled", enabled))
	return nil
}

// ListHosts returns all hosts.
func (s *Service) ListHosts(ctx context.Context) ([]*domain.Host, error) {
	return s.repo.ListHosts(ctx)
}

// AddSubject registers a test subject with the default queue priority.
func (s *Service) AddSubject(ctx context.Context, name, bitness string) (*domain.Subject, error) {
	if err := checkSubject(name); err != nil {
		return nil, err
	}
	bits, err := domain.ParseBitness(bitness)
	if err != nil {
		return nil, err
	}

	sub, err := s.repo.CreateSubject(ctx, &domain.Subject{
		Name:     name,
		Priority: DefaultSubjectPriority,
		Bitness:  bits,
		Enabled:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add subject %q: %w", name, err)
	}
	s.logger.Info("Added subject", zap.String("name", name), zap.String("bitness", bits.String()))
	return sub, nil
}

// DeleteSubject removes a subject and all its schedule entries.
func (s *Service) DeleteSubject(ctx context.Context, name, bitness string) error {
	if err := checkSubject(name); err != nil {
		return err
	}
	bits, err := domain.ParseBitness(bitness)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSubject(ctx, name, bits); err != nil {
		return fmt.Errorf("failed to delete subject %q: %w", name, err)
	}
	s.logger.Info("Deleted subject", zap.String("name", name))
	return nil
}

// SetSubjectState enables or disables a subject for scheduling.
func (s *Service) SetSubjectState(ctx context.Context, name, bitness, state string) error {
	if err := checkSubject(name); err != nil {
		return err
	}
	bits, err := domain.ParseBitness(bitness)
	if err != nil {
		return err
	}
	enabled, err := parseState(state)
	if err != nil {
		return err
	}
	if err := s.repo.SetSubjectEnabled(ctx, name, bits, enabled); err != nil {
		return fmt.Errorf("failed to update subject %q: %w", name, err)
	}
	s.logger.Info("Updated subject state", zap.String("name", name), zap.Bool("enabled", enabled))
	return nil
}

// ListSubjects returns all subjects.
func (s *Service) ListSubjects(ctx context.Context) ([]*domain.Subject, error) {
	return s.repo.ListSubjects(ctx)
}

// AddVendor registers a guest image vendor.
func (s *Service) AddVendor(ctx context.Context, name string) (*domain.Vendor, error) {
	if err := checkName("vendor", name); err != nil {
		return nil, err
	}
	v, err := s.repo.CreateVendor(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to add vendor %q: %w", name, err)
	}
	s.logger.Info("Added vendor", zap.String("name", name))
	return v, nil
}

// DeleteVendor removes a vendor, its images, and their schedule entries.
func (s *Service) DeleteVendor(ctx context.Context, name string) error {
	if err := checkName("vendor", name); err != nil {
		return err
	}
	if err := s.repo.DeleteVendor(ctx, name); err != nil {
		return fmt.Errorf("failed to delete vendor %q: %w", name, err)
	}
	s.logger.Info("Deleted vendor", zap.String("name", name))
	return nil
}

// ListVendors returns all vendors.
func (s *Service) ListVendors(ctx context.Context) ([]*domain.Vendor, error) {
	return s.repo.ListVendors(ctx)
}

// AddOSType registers an operating system type.
func (s *Service) AddOSType(ctx context.Context, name string) (*domain.OSType, error) {
	if err := checkName("OS type", name); err != nil {
		return nil, err
	}
	t, err := s.repo.CreateOSType(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to add OS type %q: %w", name, err)
	}
	s.logger.Info("Added OS type", zap.String("name", name))
	return t, nil
}

// DeleteOSType removes an OS type with all dependent images, tests, and
// schedule entries.
func (s *Service) DeleteOSType(ctx context.Context, name string) error {
	if err := checkName("OS type", name); err != nil {
		return err
	}
	if err := s.repo.DeleteOSType(ctx, name); err != nil {
		return fmt.Errorf("failed to delete OS type %q: %w", name, err)
	}
	s.logger.Info("Deleted OS type", zap.String("name", name))
	return nil
}

// ListOSTypes returns all OS types.
func (s *Service) ListOSTypes(ctx context.Context) ([]*domain.OSType, error) {
	return s.repo.ListOSTypes(ctx)
}

// AddImage registers a guest image. 64-bit images are always treated as
// large-memory capable.
func (s *Service) AddImage(ctx context.Context, name, format, vendor, osType, bitness, bigmem, smp string) (*domain.Image, error) {
	if err := checkImageName(name); err != nil {
		return nil, err
	}
	if err := checkImageFormat(format); err != nil {
		return nil, err
	}
	if err := checkName("vendor", vendor); err != nil {
		return nil, err
	}
	if err := checkName("OS type", osType); err != nil {
		return nil, err
	}
	bits, err := domain.ParseBitness(bitness)
	if err != nil {
		return nil, err
	}
	big, err := parseFlag("bigmem", bigmem)
	if err != nil {
		return nil, err
	}
	multi, err := parseFlag("smp", smp)
	if err != nil {
		return nil, err
	}
	if bits == domain.Bits64 {
		big = true
	}

	img, err := s.repo.CreateImage(ctx, &domain.Image{
		Name:    name,
		Format:  format,
		Bitness: bits,
		Bigmem:  big,
		SMP:     multi,
		Enabled: true,
	}, vendor, osType)
	if err != nil {
		return nil, fmt.Errorf("failed to add image %q: %w", name, err)
	}
	s.logger.Info("Added image", zap.String("name", name), zap.String("vendor", vendor))
	return img, nil
}

// DeleteImage removes an image and all its schedule entries.
func (s *Service) DeleteImage(ctx context.Context, name string) error {
	if err := checkImageName(name); err != nil {
		return err
	}
	if err := s.repo.DeleteImage(ctx, name); err != nil {
		return fmt.Errorf("failed to delete image %q: %w", name, err)
	}
	s.logger.Info("Deleted image", zap.String("name", name))
	return nil
}

// SetImageState enables or disables an image for scheduling.
func (s *Service) SetImageState(ctx context.Context, name, state string) error {
	if err := checkImageName(name); err != nil {
		return err
	}
	enabled, err := parseState(state)
	if err != nil {
		return err
	}
	if err := s.repo.SetImageEnabled(ctx, name, enabled); err != nil {
		return fmt.Errorf("failed to update image %q: %w", name, err)
	}
	s.logger.Info("Updated image state", zap.String("name", name), zap.Bool("enabled", enabled))
	return nil
}

// ListImages returns all images with resolved vendor and OS type names.
func (s *Service) ListImages(ctx context.Context) ([]*ImageInfo, error) {
	return s.repo.ListImages(ctx)
}

// AddTest registers a test program for an OS type. Zero timeout or runtime
// fall back to the defaults; runtime must not exceed the timeout.
func (s *Service) AddTest(ctx context.Context, name, osType, command string, timeoutSec, runtimeSec int) (*domain.Test, error) {
	if err := checkName("test", name); err != nil {
		return nil, err
	}
	if err := checkName("OS type", osType); err != nil {
		return nil, err
	}
	if err := checkCommand(command); err != nil {
		return nil, err
	}
	if timeoutSec == 0 {
		timeoutSec = DefaultTestTimeoutSec
	}
	if runtimeSec == 0 {
		runtimeSec = DefaultTestRuntimeSec
	}
	if timeoutSec < 0 || runtimeSec < 0 || runtimeSec > timeoutSec {
		return nil, invalidf("test runtime must be positive and no longer than the timeout")
	}

	t, err := s.repo.CreateTest(ctx, &domain.Test{
		Name:       name,
		Command:    command,
		TimeoutSec: timeoutSec,
		RuntimeSec: runtimeSec,
	}, osType)
	if err != nil {
		return nil, fmt.Errorf("failed to add test %q: %w", name, err)
	}
	s.logger.Info("Added test", zap.String("name", name), zap.String("os_type", osType))
	return t, nil
}

// DeleteTest removes a test program and all its schedule entries.
func (s *Service) DeleteTest(ctx context.Context, name, osType string) error {
	if err := checkName("test", name); err != nil {
		return err
	}
	if err := checkName("OS type", osType); err != nil {
		return err
	}
	if err := s.repo.DeleteTest(ctx, name, osType); err != nil {
		return fmt.Errorf("failed to delete test %q: %w", name, err)
	}
	s.logger.Info("Deleted test", zap.String("name", name))
	return nil
}

// ListTests returns all tests with resolved OS type names.
func (s *Service) ListTests(ctx context.Context) ([]*TestInfo, error) {
	return s.repo.ListTests(ctx)
}
