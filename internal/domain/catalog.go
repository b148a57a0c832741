package domain

// Vendor is the distributor of a set of guest images.
type Vendor struct {
	ID   int64
	Name string
}

// OSType is the operating system family a guest image or test belongs to.
type OSType struct {
	ID   int64
	Name string
}

// Image represents a guest disk image in the catalog.
type Image struct {
	ID       int64
	Name     string
	Format   string
	VendorID int64
	OSTypeID int64
	Bitness  Bitness
	// Bigmem marks images able to address more than 4 GiB of memory
	// (64-bit, or 32-bit with PAE). 64-bit images are always bigmem.
	Bigmem  bool
	SMP     bool
	Enabled bool
}

// Test represents a test program tied to an OS type.
type Test struct {
	ID         int64
	Name       string
	Command    string
	OSTypeID   int64
	RuntimeSec int
	TimeoutSec int
}

// ScheduleEntry is one persisted (target, test, image) combination with its
// completion flag. Entries live in one of two tables, keyed by host or by
// subject; TargetID refers to whichever the table is keyed by.
type ScheduleEntry struct {
	ID       int64
	TargetID int64
	TestID   int64
	ImageID  int64
	Done     bool
}
