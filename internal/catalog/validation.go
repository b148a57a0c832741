package catalog

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/virtbench/virtbench/internal/domain"
)

// Validation constants
const (
	MinMemoryMiB  = 1024
	MaxMemoryMiB  = 32768
	MinCores      = 1
	MaxCores      = 64
	MaxNameLen    = 32
	MaxHostLen    = 63
	MaxSubjectLen = 64
	MaxPathLen    = 255
)

var (
	validHostname = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)
	validName     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]+$`)
	validSubject  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)
	validImage    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_,+@.=/-]*$`)
	validCommand  = regexp.MustCompile(`^[A-Za-z0-9_,+@.=/-]*$`)
	validMemory   = regexp.MustCompile(`^[0-9]*\.?[0-9]+([MG]B?)?$`)
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// checkHostname validates a host name.
func checkHostname(name string) error {
	if !validHostname.MatchString(name) {
		return invalidf("invalid hostname %q", name)
	}
	if len(name) > MaxHostLen {
		return invalidf("hostname length is limited to %d characters", MaxHostLen)
	}
	return nil
}

// checkName validates vendor, OS type, and test program names.
func checkName(kind, name string) error {
	if !validName.MatchString(name) {
		return invalidf("invalid %s name %q", kind, name)
	}
	if len(name) > MaxNameLen {
		return invalidf("%s name length is limited to %d characters", kind, MaxNameLen)
	}
	return nil
}

// checkSubject validates a test subject name. Subjects name the
// virtualization stack under test, so the name determines the run flavor.
func checkSubject(name string) error {
	if !strings.HasPrefix(name, "xen") && !strings.HasPrefix(name, "kvm") {
		return invalidf("invalid test subject name %q", name)
	}
	if !validSubject.MatchString(name) {
		return invalidf("invalid test subject name %q", name)
	}
	if len(name) > MaxSubjectLen {
		return invalidf("test subject name length is limited to %d characters", MaxSubjectLen)
	}
	return nil
}

// checkImageName validates a guest image file name.
func checkImageName(name string) error {
	if !validImage.MatchString(name) {
		return invalidf("invalid guest image filename %q", name)
	}
	if len(name) > MaxPathLen {
		return invalidf("guest image filename length is limited to %d characters", MaxPathLen)
	}
	if path.Clean(name) != name {
		return invalidf("invalid guest image filename %q", name)
	}
	return nil
}

// checkImageFormat validates the guest image format.
func checkImageFormat(format string) error {
	switch format {
	case "raw", "qcow", "qcow2":
		return nil
	default:
		return invalidf("invalid guest image format %q, valid formats are raw, qcow, and qcow2", format)
	}
}

// checkCommand validates the command starting a test program.
func checkCommand(command string) error {
	if command == "" || !validCommand.MatchString(command) {
		return invalidf("invalid test command %q", command)
	}
	if len(command) > MaxPathLen {
		return invalidf("test command length is limited to %d characters", MaxPathLen)
	}
	if path.Clean(command) != command {
		return invalidf("invalid test command %q", command)
	}
	return nil
}

// parseMemoryMiB parses a memory size with optional M/MB/G/GB suffix into
// MiB and enforces the catalog limits.
func parseMemoryMiB(s string) (int64, error) {
	if !validMemory.MatchString(s) {
		return 0, invalidf("invalid memory size %q", s)
	}
	val := strings.TrimSuffix(s, "B")
	var mib int64
	switch {
	case strings.HasSuffix(val, "G"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(val, "G"), 64)
		if err != nil {
			return 0, invalidf("invalid memory size %q", s)
		}
		mib = int64(f * 1024)
	case strings.HasSuffix(val, "M"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(val, "M"), 64)
		if err != nil {
			return 0, invalidf("invalid memory size %q", s)
		}
		mib = int64(f)
	default:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, invalidf("invalid memory size %q", s)
		}
		mib = int64(f)
	}
	if mib < MinMemoryMiB || mib > MaxMemoryMiB {
		return 0, invalidf("memory size must be between %dM and %dM", MinMemoryMiB, MaxMemoryMiB)
	}
	return mib, nil
}

// parseCores parses and bounds a CPU core count.
func parseCores(s string) (int, error) {
	cores, err := strconv.Atoi(s)
	if err != nil || cores < MinCores {
		return 0, invalidf("the number of CPU cores must be a positive integer")
	}
	if cores > MaxCores {
		return 0, invalidf("the number of CPU cores is limited to %d", MaxCores)
	}
	return cores, nil
}

// parseFlag parses yes/no style boolean input.
func parseFlag(kind, s string) (bool, error) {
	switch s {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	default:
		return false, invalidf("invalid value %q for %s, valid values are 0|1, false|true, or yes|no", s, kind)
	}
}

// parseState parses enable/disable state input.
func parseState(s string) (bool, error) {
	switch s {
	case "enable", "1":
		return true, nil
	case "disable", "0":
		return false, nil
	default:
		return false, invalidf("invalid state %q, valid values are 0|1, disable|enable", s)
	}
}
