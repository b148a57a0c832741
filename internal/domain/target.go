package domain

import "fmt"

// Bitness is the word width of a host, test subject, or guest image.
type Bitness int

const (
	Bits32 Bitness = 0
	Bits64 Bitness = 1
)

// ParseBitness translates the operator-facing "32"/"64" notation.
func ParseBitness(s string) (Bitness, error) {
	switch s {
	case "32":
		return Bits32, nil
	case "64":
		return Bits64, nil
	default:
		return 0, fmt.Errorf("%w: bitness must be 32 or 64, got %q", ErrInvalidArgument, s)
	}
}

// String returns the operator-facing notation.
func (b Bitness) String() string {
	if b == Bits64 {
		return "64"
	}
	return "32"
}

// Supports reports whether a target of this bitness can run a guest image
// of bitness img. A 64-bit target runs 32-bit images, not vice versa.
func (b Bitness) Supports(img Bitness) bool {
	return b >= img
}

// Host represents a physical test machine whose resources a run is packed into.
type Host struct {
	ID            int64
	Name          string
	MemoryMiB     int64
	Cores         int
	Bitness       Bitness
	LastVendorID  int64
	LastSubjectID int64
	Enabled       bool
}

// Subject represents an abstract test subject (a virtualization stack under
// test) that schedule entries can be keyed by instead of a host.
type Subject struct {
	ID           int64
	Name         string
	Priority     int
	Bitness      Bitness
	LastVendorID int64
	Enabled      bool
}
