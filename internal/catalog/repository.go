// Package catalog provides the management service for the scheduling
// catalog: hosts, test subjects, vendors, OS types, guest images, and test
// programs. Creating a host, subject, image, or test materializes the
// cross-join of compatible schedule entries; deleting cascades to them.
package catalog

import (
	"context"

	"github.com/virtbench/virtbench/internal/domain"
)

// ImageInfo is an image joined with its vendor and OS type names.
type ImageInfo struct {
	domain.Image
	Vendor string
	OSType string
}

// TestInfo is a test joined with its OS type name.
type TestInfo struct {
	domain.Test
	OSType string
}

// Repository defines the catalog data access needed by the service.
// Implementations return domain.ErrAlreadyExists on unique collisions and
// domain.ErrNotFound for missing entities or lookup targets.
type Repository interface {
	CreateHost(ctx context.Context, h *domain.Host) (*domain.Host, error)
	DeleteHost(ctx context.Context, name string) error
	SetHostEnabled(ctx context.Context, name string, enabled bool) error
	ListHosts(ctx context.Context) ([]*domain.Host, error)

	CreateSubject(ctx context.Context, s *domain.Subject) (*domain.Subject, error)
	DeleteSubject(ctx context.Context, name string, bitness domain.Bitness) error
	SetSubjectEnabled(ctx context.Context, name string, bitness domain.Bitness, enabled bool) error
	ListSubjects(ctx context.Context) ([]*domain.Subject, error)

	CreateVendor(ctx context.Context, name string) (*domain.Vendor, error)
	DeleteVendor(ctx context.Context, name string) error
	ListVendors(ctx context.Context) ([]*domain.Vendor, error)

	CreateOSType(ctx context.Context, name string) (*domain.OSType, error)
	DeleteOSType(ctx context.Context, name string) error
	ListOSTypes(ctx context.Context) ([]*domain.OSType, error)

	// CreateImage resolves vendorName and osTypeName to IDs before insert.
	CreateImage(ctx context.Context, img *domain.Image, vendorName, osTypeName string) (*domain.Image, error)
	DeleteImage(ctx context.Context, name string) error
	SetImageEnabled(ctx context.Context, name string, enabled bool) error
	ListImages(ctx context.Context) ([]*ImageInfo, error)

	// CreateTest resolves osTypeName to an ID before insert.
	CreateTest(ctx context.Context, t *domain.Test, osTypeName string) (*domain.Test, error)
	DeleteTest(ctx context.Context, name, osTypeName string) error
	ListTests(ctx context.Context) ([]*TestInfo, error)
}
