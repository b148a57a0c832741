// Package scheduler implements resource-aware test-run generation: given a
// host's memory and core budget and a persisted schedule of (target, test,
// image) combinations, it packs a rotating mix of guest configurations into
// the available resources.
package scheduler

// Config holds the allocation policy knobs.
type Config struct {
	// ReservedHostMemMiB is taken off the top of the host's memory for the
	// control domain before any guest is sized.
	ReservedHostMemMiB int64 `mapstructure:"reserved_host_mem_mib"`

	// ExtraCoreSlots is added to the host's core count, slightly
	// oversubscribing the control domain's core.
	ExtraCoreSlots int `mapstructure:"extra_core_slots"`

	// MinGuestMemMiB is the smallest memory assignment for a guest; the
	// allocation loop stops once less than this remains.
	MinGuestMemMiB int64 `mapstructure:"min_guest_mem_mib"`

	// MemStepMiB is the granularity of guest memory sizing.
	MemStepMiB int64 `mapstructure:"mem_step_mib"`

	// BigmemThresholdMiB separates small guests from large-memory guests.
	BigmemThresholdMiB int64 `mapstructure:"bigmem_threshold_mib"`

	// HAPMem32LimitMiB is the largest guest memory for which hardware
	// assisted paging works on a 32-bit target.
	HAPMem32LimitMiB int64 `mapstructure:"hap_mem32_limit_mib"`

	// MACPrefix is the OUI prefix for generated guest MAC addresses.
	MACPrefix string `mapstructure:"mac_prefix"`
}

// DefaultConfig returns the default allocation policy.
func DefaultConfig() Config {
	return Config{
		ReservedHostMemMiB: 1024,
		ExtraCoreSlots:     1,
		MinGuestMemMiB:     1024,
		MemStepMiB:         256,
		BigmemThresholdMiB: 4096,
		HAPMem32LimitMiB:   3840,
		MACPrefix:          "52:54:00",
	}
}
