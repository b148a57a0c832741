package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/virtbench/virtbench/internal/catalog"
	"github.com/virtbench/virtbench/internal/domain"
)

// Ensure CatalogRepository implements catalog.Repository
var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository using PostgreSQL.
// Creating a host, subject, image, or test materializes the cross-join of
// compatible schedule entries in the same transaction; deletes cascade to
// the schedule tables through foreign keys.
type CatalogRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCatalogRepository creates a new PostgreSQL catalog repository.
func NewCatalogRepository(db *DB, logger *zap.Logger) *CatalogRepository {
	return &CatalogRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "catalog")),
	}
}

// CreateHost stores a new host and populates its schedule.
func (r *CatalogRepository) CreateHost(ctx context.Context, h *domain.Host) (*domain.Host, error) {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO host (name, memory_mib, cores, bitness, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, h.Name, h.MemoryMiB, h.Cores, int(h.Bitness), h.Enabled).Scan(&h.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert host: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO host_schedule (host_id, test_id, image_id)
		SELECT $1, t.id, i.id
		FROM test t
		JOIN image i ON i.os_type_id = t.os_type_id
	`, h.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to populate host schedule: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	r.logger.Info("Created host", zap.Int64("id", h.ID), zap.String("name", h.Name))
	return h, nil
}

// DeleteHost removes a host; its schedule entries cascade.
func (r *CatalogRepository) DeleteHost(ctx context.Context, name string) error {
	return r.deleteByName(ctx, "host", `DELETE FROM host WHERE name = $1`, name)
}

// SetHostEnabled updates the scheduling flag of a host.
func (r *CatalogRepository) SetHostEnabled(ctx context.Context, name string, enabled bool) error {
	tag, err := r.db.pool.Exec(ctx, `UPDATE host SET enabled = $2 WHERE name = $1`, name, enabled)
	if err != nil {
		return fmt.Errorf("failed to update host: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListHosts retrieves all hosts ordered by name.
func (r *CatalogRepository) ListHosts(ctx context.Context) ([]*domain.Host, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, memory_mib, cores, bitness, last_vendor_id, last_subject_id, enabled
		FROM host
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query hosts: %w", err)
	}
	defer rows.Close()

	var hosts []*domain.Host
	for rows.Next() {
		var h domain.Host
		if err := rows.Scan(&h.ID, &h.Name, &h.MemoryMiB, &h.Cores, &h.Bitness,
			&h.LastVendorID, &h.LastSubjectID, &h.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, &h)
	}
	return hosts, rows.Err()
}

// CreateSubject stores a new subject and populates its schedule.
func (r *CatalogRepository) CreateSubject(ctx context.Context, s *domain.Subject) (*domain.Subject, error) {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO subject (name, priority, bitness, enabled)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, s.Name, s.Priority, int(s.Bitness), s.Enabled).Scan(&s.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert subject: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO subject_schedule (subject_id, test_id, image_id)
		SELECT $1, t.id, i.id
		FROM test t
		JOIN image i ON i.os_type_id = t.os_type_id
	`, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to populate subject schedule: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	r.logger.Info("Created subject", zap.Int64("id", s.ID), zap.String("name", s.Name))
	return s, nil
}

// DeleteSubject removes a subject; its schedule entries cascade.
func (r *CatalogRepository) DeleteSubject(ctx context.Context, name string, bitness domain.Bitness) error {
	tag, err := r.db.pool.Exec(ctx,
		`DELETE FROM subject WHERE name = $1 AND bitness = $2`, name, int(bitness))
	if err != nil {
		return fmt.Errorf("failed to delete subject: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.logger.Info("Deleted subject", zap.String("name", name))
	return nil
}

// SetSubjectEnabled updates the scheduling flag of a subject.
func (r *CatalogRepository) SetSubjectEnabled(ctx context.Context, name string, bitness domain.Bitness, enabled bool) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE subject SET enabled = $3 WHERE name = $1 AND bitness = $2`,
		name, int(bitness), enabled)
	if err != nil {
		return fmt.Errorf("failed to update subject: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListSubjects retrieves all subjects ordered by name and bitness.
func (r *CatalogRepository) ListSubjects(ctx context.Context) ([]*domain.Subject, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, priority, bitness, last_vendor_id, enabled
		FROM subject
		ORDER BY name, bitness
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []*domain.Subject
	for rows.Next() {
		var s domain.Subject
		if err := rows.Scan(&s.ID, &s.Name, &s.Priority, &s.Bitness,
			&s.LastVendorID, &s.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		subjects = append(subjects, &s)
	}
	return subjects, rows.Err()
}

// CreateVendor stores a new vendor.
func (r *CatalogRepository) CreateVendor(ctx context.Context, name string) (*domain.Vendor, error) {
	v := &domain.Vendor{Name: name}
	err := r.db.pool.QueryRow(ctx,
		`INSERT INTO vendor (name) VALUES ($1) RETURNING id`, name).Scan(&v.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert vendor: %w", err)
	}
	r.logger.Info("Created vendor", zap.Int64("id", v.ID), zap.String("name", name))
	return v, nil
}

// DeleteVendor removes a vendor; its images and their entries cascade.
func (r *CatalogRepository) DeleteVendor(ctx context.Context, name string) error {
	return r.deleteByName(ctx, "vendor", `DELETE FROM vendor WHERE name = $1`, name)
}

// ListVendors retrieves all vendors ordered by name.
func (r *CatalogRepository) ListVendors(ctx context.Context) ([]*domain.Vendor, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT id, name FROM vendor ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendors: %w", err)
	}
	defer rows.Close()

	var vendors []*domain.Vendor
	for rows.Next() {
		var v domain.Vendor
		if err := rows.Scan(&v.ID, &v.Name); err != nil {
			return nil, fmt.Errorf("failed to scan vendor: %w", err)
		}
		vendors = append(vendors, &v)
	}
	return vendors, rows.Err()
}

// CreateOSType stores a new OS type.
func (r *CatalogRepository) CreateOSType(ctx context.Context, name string) (*domain.OSType, error) {
	t := &domain.OSType{Name: name}
	err := r.db.pool.QueryRow(ctx,
		`INSERT INTO os_type (name) VALUES ($1) RETURNING id`, name).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert OS type: %w", err)
	}
	r.logger.Info("Created OS type", zap.Int64("id", t.ID), zap.String("name", name))
	return t, nil
}

// DeleteOSType removes an OS type; images, tests, and entries cascade.
func (r *CatalogRepository) DeleteOSType(ctx context.Context, name string) error {
	return r.deleteByName(ctx, "OS type", `DELETE FROM os_type WHERE name = $1`, name)
}

// ListOSTypes retrieves all OS types ordered by name.
func (r *CatalogRepository) ListOSTypes(ctx context.Context) ([]*domain.OSType, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT id, name FROM os_type ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query OS types: %w", err)
	}
	defer rows.Close()

	var types []*domain.OSType
	for rows.Next() {
		var t domain.OSType
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan OS type: %w", err)
		}
		types = append(types, &t)
	}
	return types, rows.Err()
}

// CreateImage stores a new image and populates schedule entries for every
// test sharing its OS type, on every host and subject.
func (r *CatalogRepository) CreateImage(ctx context.Context, img *domain.Image, vendorName, osTypeName string) (*domain.Image, error) {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `SELECT id FROM vendor WHERE name = $1`, vendorName).Scan(&img.VendorID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("vendor %q: %w", vendorName, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve vendor: %w", err)
	}
	if err := tx.QueryRow(ctx, `SELECT id FROM os_type WHERE name = $1`, osTypeName).Scan(&img.OSTypeID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("OS type %q: %w", osTypeName, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve OS type: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO image (name, format, vendor_id, os_type_id, bitness, bigmem, smp, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, img.Name, img.Format, img.VendorID, img.OSTypeID, int(img.Bitness),
		img.Bigmem, img.SMP, img.Enabled).Scan(&img.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert image: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO host_schedule (host_id, test_id, image_id)
		SELECT h.id, t.id, $1
		FROM host h, test t
		WHERE t.os_type_id = $2
	`, img.ID, img.OSTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to populate host schedule: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO subject_schedule (subject_id, test_id, image_id)
		SELECT s.id, t.id, $1
		FROM subject s, test t
		WHERE t.os_type_id = $2
	`, img.ID, img.OSTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to populate subject schedule: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	r.logger.Info("Created image", zap.Int64("id", img.ID), zap.String("name", img.Name))
	return img, nil
}

// DeleteImage removes an image; its schedule entries cascade.
func (r *CatalogRepository) DeleteImage(ctx context.Context, name string) error {
	return r.deleteByName(ctx, "image", `DELETE FROM image WHERE name = $1`, name)
}

// SetImageEnabled updates the scheduling flag of an image.
func (r *CatalogRepository) SetImageEnabled(ctx context.Context, name string, enabled bool) error {
	tag, err := r.db.pool.Exec(ctx, `UPDATE image SET enabled = $2 WHERE name = $1`, name, enabled)
	if err != nil {
		return fmt.Errorf("failed to update image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListImages retrieves all images with vendor and OS type names.
func (r *CatalogRepository) ListImages(ctx context.Context) ([]*catalog.ImageInfo, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT i.id, i.name, i.format, i.vendor_id, i.os_type_id,
		       i.bitness, i.bigmem, i.smp, i.enabled, v.name, ot.name
		FROM image i
		JOIN vendor v ON v.id = i.vendor_id
		JOIN os_type ot ON ot.id = i.os_type_id
		ORDER BY i.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []*catalog.ImageInfo
	for rows.Next() {
		var info catalog.ImageInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.Format, &info.VendorID,
			&info.OSTypeID, &info.Bitness, &info.Bigmem, &info.SMP, &info.Enabled,
			&info.Vendor, &info.OSType); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, &info)
	}
	return images, rows.Err()
}

// CreateTest stores a new test and populates schedule entries for every
// image sharing its OS type, on every host and subject.
func (r *CatalogRepository) CreateTest(ctx context.Context, t *domain.Test, osTypeName string) (*domain.Test, error) {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `SELECT id FROM os_type WHERE name = $1`, osTypeName).Scan(&t.OSTypeID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("OS type %q: %w", osTypeName, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve OS type: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO test (name, command, os_type_id, runtime_sec, timeout_sec)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, t.Name, t.Command, t.OSTypeID, t.RuntimeSec, t.TimeoutSec).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert test: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO host_schedule (host_id, test_id, image_id)
		SELECT h.id, $1, i.id
		FROM host h, image i
		WHERE i.os_type_id = $2
	`, t.ID, t.OSTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to populate host schedule: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO subject_schedule (subject_id, test_id, image_id)
		SELECT s.id, $1, i.id
		FROM subject s, image i
		WHERE i.os_type_id = $2
	`, t.ID, t.OSTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to populate subject schedule: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	r.logger.Info("Created test", zap.Int64("id", t.ID), zap.String("name", t.Name))
	return t, nil
}

// DeleteTest removes a test; its schedule entries cascade.
func (r *CatalogRepository) DeleteTest(ctx context.Context, name, osTypeName string) error {
	tag, err := r.db.pool.Exec(ctx, `
		DELETE FROM test
		WHERE name = $1 AND os_type_id = (SELECT id FROM os_type WHERE name = $2)
	`, name, osTypeName)
	if err != nil {
		return fmt.Errorf("failed to delete test: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.logger.Info("Deleted test", zap.String("name", name))
	return nil
}

// ListTests retrieves all tests with OS type names.
func (r *CatalogRepository) ListTests(ctx context.Context) ([]*catalog.TestInfo, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT t.id, t.name, t.command, t.os_type_id, t.runtime_sec, t.timeout_sec, ot.name
		FROM test t
		JOIN os_type ot ON ot.id = t.os_type_id
		ORDER BY t.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tests: %w", err)
	}
	defer rows.Close()

	var tests []*catalog.TestInfo
	for rows.Next() {
		var info catalog.TestInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.Command, &info.OSTypeID,
			&info.RuntimeSec, &info.TimeoutSec, &info.OSType); err != nil {
			return nil, fmt.Errorf("failed to scan test: %w", err)
		}
		tests = append(tests, &info)
	}
	return tests, rows.Err()
}

func (r *CatalogRepository) deleteByName(ctx context.Context, kind, query, name string) error {
	tag, err := r.db.pool.Exec(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.logger.Info("Deleted "+kind, zap.String("name", name))
	return nil
}
