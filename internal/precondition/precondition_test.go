package precondition

import (
	"strings"
	"testing"

	"github.com/virtbench/virtbench/internal/domain"
	"github.com/virtbench/virtbench/internal/scheduler"
)

func sampleRun() *scheduler.Run {
	return &scheduler.Run{
		ID: "7a1f4c1e-9b0d-4a52-8f7e-2f33a81f2b10",
		Host: &domain.Host{
			Name:      "bench01",
			MemoryMiB: 8192,
			Cores:     4,
			Bitness:   domain.Bits64,
		},
		Guests: []*scheduler.Guest{
			{
				Seq:        0,
				Display:    0,
				MAC:        "52:54:00:4D:2A:01",
				Image:      "fedora-40_64b.img",
				Format:     "raw",
				OSType:     "linux",
				Test:       "kernbench",
				Command:    "/opt/kernbench/run",
				Bitness:    domain.Bits64,
				Cores:      2,
				MemoryMiB:  4096,
				ShadowMiB:  40,
				HAP:        true,
				TimeoutSec: 36000,
				RuntimeSec: 28800,
			},
			{
				Seq:       1,
				Display:   1,
				MAC:       "52:54:00:4D:2A:02",
				Image:     "opensuse-15_32b.img",
				Format:    "qcow2",
				OSType:    "linux",
				Test:      "kernbench",
				Command:   "/opt/kernbench/run",
				Bitness:   domain.Bits32,
				Cores:     1,
				MemoryMiB: 1024,
				ShadowMiB: 10,
				HAP:       true,
			},
		},
	}
}

func TestBuildHostRun(t *testing.T) {
	doc := Build(sampleRun())

	if doc.Version != Version {
		t.Errorf("version %d, want %d", doc.Version, Version)
	}
	if doc.Subject != nil {
		t.Error("host-keyed run must not carry a subject")
	}
	if doc.Host.Name != "bench01" || doc.Host.Bitness != "64" {
		t.Errorf("unexpected host: %+v", doc.Host)
	}
	if len(doc.Guests) != 2 {
		t.Fatalf("got %d guests, want 2", len(doc.Guests))
	}
	g := doc.Guests[0]
	if g.MAC != "52:54:00:4D:2A:01" || g.Image != "fedora-40_64b.img" || g.Bitness != "64" {
		t.Errorf("unexpected guest: %+v", g)
	}
}

func TestBuildSubjectRun(t *testing.T) {
	run := sampleRun()
	run.Subject = &domain.Subject{Name: "xen-4.1-testing", Bitness: domain.Bits32}

	doc := Build(run)
	if doc.Subject == nil || doc.Subject.Name != "xen-4.1-testing" || doc.Subject.Bitness != "32" {
		t.Errorf("unexpected subject: %+v", doc.Subject)
	}
}

func TestMarshalParse(t *testing.T) {
	run := sampleRun()
	run.Subject = &domain.Subject{Name: "kvm-6.1", Bitness: domain.Bits64}

	data, err := Build(run).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	text := string(data)
	for _, want := range []string{"run_id:", "name: bench01", "name: kvm-6.1", "52:54:00:4D:2A:01", "shadow_mib: 40"} {
		if !strings.Contains(text, want) {
			t.Errorf("document missing %q:\n%s", want, text)
		}
	}

	doc, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.RunID != run.ID || len(doc.Guests) != 2 || doc.Guests[1].MemoryMiB != 1024 {
		t.Errorf("round trip mismatch: %+v", doc)
	}

	if _, err := Parse([]byte("\t not yaml")); err == nil {
		t.Error("Parse accepted malformed input")
	}
}
