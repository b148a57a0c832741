package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/virtbench/virtbench/internal/domain"
	"github.com/virtbench/virtbench/internal/scheduler"
)

// Ensure ScheduleRepository implements scheduler.Store
var _ scheduler.Store = (*ScheduleRepository)(nil)

// ScheduleRepository implements scheduler.Store using PostgreSQL. The same
// queries serve both schedule tables; the table and key column are chosen
// by target kind.
type ScheduleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewScheduleRepository creates a new PostgreSQL schedule repository.
func NewScheduleRepository(db *DB, logger *zap.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "schedule")),
	}
}

// tableFor returns the schedule table, its target key column, and the
// target table for a kind. Values are compile-time constants, never input.
func tableFor(kind scheduler.TargetKind) (table, keyCol, targetTable string) {
	if kind == scheduler.SubjectSchedule {
		return "subject_schedule", "subject_id", "subject"
	}
	return "host_schedule", "host_id", "host"
}

// HostByName retrieves a host row by name.
func (r *ScheduleRepository) HostByName(ctx context.Context, name string) (*domain.Host, error) {
	var h domain.Host
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, memory_mib, cores, bitness, last_vendor_id, last_subject_id, enabled
		FROM host
		WHERE name = $1
	`, name).Scan(&h.ID, &h.Name, &h.MemoryMiB, &h.Cores, &h.Bitness,
		&h.LastVendorID, &h.LastSubjectID, &h.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query host: %w", err)
	}
	return &h, nil
}

// SubjectByName retrieves a subject row by name and bitness.
func (r *ScheduleRepository) SubjectByName(ctx context.Context, name string, bitness domain.Bitness) (*domain.Subject, error) {
	var s domain.Subject
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, priority, bitness, last_vendor_id, enabled
		FROM subject
		WHERE name = $1 AND bitness = $2
	`, name, int(bitness)).Scan(&s.ID, &s.Name, &s.Priority, &s.Bitness,
		&s.LastVendorID, &s.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query subject: %w", err)
	}
	return &s, nil
}

// NextSubject retrieves the enabled subject with the smallest ID greater
// than afterID that has schedule entries.
func (r *ScheduleRepository) NextSubject(ctx context.Context, afterID int64) (*domain.Subject, error) {
	var s domain.Subject
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, priority, bitness, last_vendor_id, enabled
		FROM subject
		WHERE enabled AND id > $1
		  AND EXISTS (SELECT 1 FROM subject_schedule ss WHERE ss.subject_id = subject.id)
		ORDER BY id
		LIMIT 1
	`, afterID).Scan(&s.ID, &s.Name, &s.Priority, &s.Bitness, &s.LastVendorID, &s.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query next subject: %w", err)
	}
	return &s, nil
}

// NextVendor retrieves the smallest vendor ID above afterVendorID that
// still has an eligible schedule entry for the target, done or not.
func (r *ScheduleRepository) NextVendor(ctx context.Context, target scheduler.TargetRef, excludedImages []string, afterVendorID int64) (int64, error) {
	table, keyCol, targetTable := tableFor(target.Kind)
	query := fmt.Sprintf(`
		SELECT MIN(i.vendor_id)
		FROM %s s
		JOIN image i ON i.id = s.image_id
		JOIN %s t ON t.id = s.%s
		WHERE s.%s = $1
		  AND i.enabled AND i.bitness <= t.bitness
		  AND i.vendor_id > $2
		  AND ($3::text[] IS NULL OR i.name <> ALL($3))
	`, table, targetTable, keyCol, keyCol)

	var vendorID *int64
	err := r.db.pool.QueryRow(ctx, query, target.ID, afterVendorID, excludedImages).Scan(&vendorID)
	if err != nil {
		return 0, fmt.Errorf("failed to query next vendor: %w", err)
	}
	if vendorID == nil {
		return 0, domain.ErrNotFound
	}
	return *vendorID, nil
}

// CountUndoneEntries counts not-done eligible entries for (target, vendor).
func (r *ScheduleRepository) CountUndoneEntries(ctx context.Context, target scheduler.TargetRef, vendorID int64, excludedImages []string) (int, error) {
	table, keyCol, targetTable := tableFor(target.Kind)
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s s
		JOIN image i ON i.id = s.image_id
		JOIN %s t ON t.id = s.%s
		WHERE s.%s = $1 AND NOT s.done
		  AND i.enabled AND i.bitness <= t.bitness
		  AND i.vendor_id = $2
		  AND ($3::text[] IS NULL OR i.name <> ALL($3))
	`, table, targetTable, keyCol, keyCol)

	var count int
	if err := r.db.pool.QueryRow(ctx, query, target.ID, vendorID, excludedImages).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count undone entries: %w", err)
	}
	return count, nil
}

// ListDoneEntries retrieves the IDs of done eligible entries for (target,
// vendor).
func (r *ScheduleRepository) ListDoneEntries(ctx context.Context, target scheduler.TargetRef, vendorID int64, excludedImages []string) ([]int64, error) {
	table, keyCol, targetTable := tableFor(target.Kind)
	query := fmt.Sprintf(`
		SELECT s.id
		FROM %s s
		JOIN image i ON i.id = s.image_id
		JOIN %s t ON t.id = s.%s
		WHERE s.%s = $1 AND s.done
		  AND i.enabled AND i.bitness <= t.bitness
		  AND i.vendor_id = $2
		  AND ($3::text[] IS NULL OR i.name <> ALL($3))
		ORDER BY s.id
	`, table, targetTable, keyCol, keyCol)

	rows, err := r.db.pool.Query(ctx, query, target.ID, vendorID, excludedImages)
	if err != nil {
		return nil, fmt.Errorf("failed to query done entries: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entry id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResetEntries clears the completion flag of the given entries.
func (r *ScheduleRepository) ResetEntries(ctx context.Context, kind scheduler.TargetKind, entryIDs []int64) error {
	if len(entryIDs) == 0 {
		return nil
	}
	table, _, _ := tableFor(kind)
	query := fmt.Sprintf(`UPDATE %s SET done = FALSE WHERE id = ANY($1)`, table)
	if _, err := r.db.pool.Exec(ctx, query, entryIDs); err != nil {
		return fmt.Errorf("failed to reset entries: %w", err)
	}
	r.logger.Debug("Reset schedule entries",
		zap.String("kind", kind.String()), zap.Int("count", len(entryIDs)))
	return nil
}

// MarkEntriesDone sets the completion flag of the given entries.
func (r *ScheduleRepository) MarkEntriesDone(ctx context.Context, kind scheduler.TargetKind, entryIDs []int64) error {
	if len(entryIDs) == 0 {
		return nil
	}
	table, _, _ := tableFor(kind)
	query := fmt.Sprintf(`UPDATE %s SET done = TRUE WHERE id = ANY($1)`, table)
	if _, err := r.db.pool.Exec(ctx, query, entryIDs); err != nil {
		return fmt.Errorf("failed to mark entries done: %w", err)
	}
	r.logger.Debug("Marked schedule entries done",
		zap.String("kind", kind.String()), zap.Int("count", len(entryIDs)))
	return nil
}

// ListCandidates retrieves all undone eligible entries for (target, vendor)
// joined with their image and test metadata.
func (r *ScheduleRepository) ListCandidates(ctx context.Context, target scheduler.TargetRef, vendorID int64, excludedImages []string) ([]scheduler.Candidate, error) {
	table, keyCol, targetTable := tableFor(target.Kind)
	query := fmt.Sprintf(`
		SELECT s.id, i.name, i.format, tst.name, tst.command, ot.name,
		       i.bitness, i.bigmem, i.smp, tst.timeout_sec, tst.runtime_sec
		FROM %s s
		JOIN image i ON i.id = s.image_id
		JOIN test tst ON tst.id = s.test_id
		JOIN os_type ot ON ot.id = i.os_type_id
		JOIN %s t ON t.id = s.%s
		WHERE s.%s = $1 AND NOT s.done
		  AND i.enabled AND i.bitness <= t.bitness
		  AND i.vendor_id = $2
		  AND ($3::text[] IS NULL OR i.name <> ALL($3))
		ORDER BY s.id
	`, table, targetTable, keyCol, keyCol)

	rows, err := r.db.pool.Query(ctx, query, target.ID, vendorID, excludedImages)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []scheduler.Candidate
	for rows.Next() {
		var c scheduler.Candidate
		if err := rows.Scan(&c.EntryID, &c.Image, &c.Format, &c.Test, &c.Command,
			&c.OSType, &c.Bitness, &c.Bigmem, &c.SMP, &c.TimeoutSec, &c.RuntimeSec); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// SetLastVendor persists the vendor rotation pointer on the target row.
func (r *ScheduleRepository) SetLastVendor(ctx context.Context, target scheduler.TargetRef, vendorID int64) error {
	_, _, targetTable := tableFor(target.Kind)
	query := fmt.Sprintf(`UPDATE %s SET last_vendor_id = $2 WHERE id = $1`, targetTable)
	tag, err := r.db.pool.Exec(ctx, query, target.ID, vendorID)
	if err != nil {
		return fmt.Errorf("failed to set last vendor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetLastSubject persists the subject rotation pointer on the host row.
func (r *ScheduleRepository) SetLastSubject(ctx context.Context, hostID, subjectID int64) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE host SET last_subject_id = $2 WHERE id = $1`, hostID, subjectID)
	if err != nil {
		return fmt.Errorf("failed to set last subject: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
