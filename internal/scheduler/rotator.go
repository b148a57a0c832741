package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/virtbench/virtbench/internal/domain"
)

// nextVendor finds the next vendor with eligible images in circular ID order
// after the target's rotation pointer, performs fairness maintenance on the
// vendor's completion flags, and persists the advanced pointer. Returns 0
// when no vendor has eligible work left for this run.
func (a *Allocator) nextVendor(ctx context.Context, usedImages []string) (int64, error) {
	vendorID, err := a.store.NextVendor(ctx, a.target, usedImages, a.lastVendor)
	if errors.Is(err, domain.ErrNotFound) {
		// Wrap around to the smallest eligible vendor ID.
		vendorID, err = a.store.NextVendor(ctx, a.target, usedImages, 0)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vendor rotation failed: %w", err)
	}

	if err := a.maintainFairness(ctx, vendorID, usedImages); err != nil {
		return 0, err
	}

	if err := a.store.SetLastVendor(ctx, a.target, vendorID); err != nil {
		return 0, fmt.Errorf("failed to update vendor rotation pointer: %w", err)
	}
	a.lastVendor = vendorID
	return vendorID, nil
}

// maintainFairness keeps a chosen vendor's rotation moving. If the vendor
// has undone work outside the images already used in this run, nothing
// happens. If its only undone work collides with used images, one random
// done entry with a non-colliding image is unlocked. If the vendor has no
// undone work at all, every done entry is reset.
func (a *Allocator) maintainFairness(ctx context.Context, vendorID int64, usedImages []string) error {
	undone, err := a.store.CountUndoneEntries(ctx, a.target, vendorID, usedImages)
	if err != nil {
		return fmt.Errorf("failed to check schedule completion: %w", err)
	}
	if undone > 0 {
		return nil
	}

	undoneAll, err := a.store.CountUndoneEntries(ctx, a.target, vendorID, nil)
	if err != nil {
		return fmt.Errorf("failed to check schedule completion: %w", err)
	}

	if undoneAll > 0 {
		// Work remains, but only for images already in this run. Unlock one
		// random done entry with a fresh image so the rotation has
		// something to offer.
		done, err := a.store.ListDoneEntries(ctx, a.target, vendorID, usedImages)
		if err != nil {
			return fmt.Errorf("failed to list done schedule entries: %w", err)
		}
		if len(done) == 0 {
			return nil
		}
		entry := done[a.rng.Intn(len(done))]
		if err := a.store.ResetEntries(ctx, a.target.Kind, []int64{entry}); err != nil {
			return fmt.Errorf("failed to unlock schedule entry: %w", err)
		}
		a.logger.Debug("Unlocked one done schedule entry",
			zap.Int64("vendor_id", vendorID),
			zap.Int64("entry_id", entry),
		)
		return nil
	}

	// The vendor's schedule is fully exercised; start its rotation over.
	done, err := a.store.ListDoneEntries(ctx, a.target, vendorID, nil)
	if err != nil {
		return fmt.Errorf("failed to list done schedule entries: %w", err)
	}
	if len(done) == 0 {
		return nil
	}
	if err := a.store.ResetEntries(ctx, a.target.Kind, done); err != nil {
		return fmt.Errorf("failed to reset vendor schedule: %w", err)
	}
	a.logger.Debug("Reset completed vendor schedule",
		zap.Int64("vendor_id", vendorID),
		zap.Int("entries", len(done)),
	)
	return nil
}
