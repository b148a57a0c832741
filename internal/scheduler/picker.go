package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// pickCandidate rotates to the next vendor and selects one of its eligible
// (test, image) combinations, weighted toward using available large-memory
// and multi-core capacity. Returns nil when no combination is left for this
// run.
func (a *Allocator) pickCandidate(ctx context.Context, usedImages []string) (*Candidate, error) {
	vendorID, err := a.nextVendor(ctx, usedImages)
	if err != nil {
		return nil, err
	}
	if vendorID == 0 {
		return nil, nil
	}

	candidates, err := a.store.ListCandidates(ctx, a.target, vendorID, usedImages)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates for vendor %d: %w", vendorID, err)
	}
	if len(candidates) == 0 {
		// Rotation maintenance guarantees at least one undone entry with a
		// fresh image; an empty list means the schedule changed under us.
		return nil, fmt.Errorf("vendor %d has no runnable candidates after rotation", vendorID)
	}

	cand := a.weigh(candidates)
	a.logger.Debug("Picked candidate",
		zap.Int64("vendor_id", vendorID),
		zap.String("image", cand.Image),
		zap.String("test", cand.Test),
		zap.Bool("bigmem", cand.Bigmem),
		zap.Bool("smp", cand.SMP),
	)
	return cand, nil
}

// weigh buckets candidates by (bigmem, smp) capability and picks from the
// bucket that best matches the remaining resources. Greedy, not optimal: it
// prefers burning large-memory capacity early and matching core multiplicity,
// and accepts awkward leftovers in later iterations.
func (a *Allocator) weigh(candidates []Candidate) *Candidate {
	var smallUP, smallSMP, bigUP, bigSMP []Candidate
	for _, c := range candidates {
		switch {
		case !c.Bigmem && !c.SMP:
			smallUP = append(smallUP, c)
		case !c.Bigmem && c.SMP:
			smallSMP = append(smallSMP, c)
		case c.Bigmem && !c.SMP:
			bigUP = append(bigUP, c)
		default:
			bigSMP = append(bigSMP, c)
		}
	}

	var pool []Candidate
	switch {
	case a.memMiB > a.cfg.BigmemThresholdMiB && len(bigUP)+len(bigSMP) > 0:
		switch {
		case a.cores > 1 && len(bigSMP) > 0:
			pool = bigSMP
		case a.cores == 1 && len(bigUP) > 0:
			pool = bigUP
		default:
			pool = concat(bigUP, bigSMP)
		}
	case a.cores > 1 && len(smallSMP) > 0:
		pool = smallSMP
	case a.cores > 1 && len(smallUP) > 0:
		pool = smallUP
	case a.cores > 1 && len(bigSMP) > 0:
		pool = bigSMP
	case a.cores == 1 && len(smallUP) > 0:
		pool = smallUP
	case a.cores == 1 && len(bigUP) > 0:
		pool = bigUP
	case a.cores == 1 && len(smallSMP) > 0:
		pool = smallSMP
	default:
		pool = concat(concat(smallUP, smallSMP), concat(bigUP, bigSMP))
	}

	picked := pool[a.rng.Intn(len(pool))]
	return &picked
}

func concat(a, b []Candidate) []Candidate {
	out := make([]Candidate, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
