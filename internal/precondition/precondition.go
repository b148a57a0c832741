// Package precondition serializes a planned test run into the YAML document
// consumed by the downstream run executor.
package precondition

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/virtbench/virtbench/internal/scheduler"
)

// Version is bumped whenever the document layout changes incompatibly.
const Version = 1

// Document is the root of the run precondition.
type Document struct {
	Version int      `yaml:"version"`
	RunID   string   `yaml:"run_id"`
	Host    Host     `yaml:"host"`
	Subject *Subject `yaml:"subject,omitempty"`
	Guests  []Guest  `yaml:"guests"`
}

// Host describes the machine the run is packed onto.
type Host struct {
	Name      string `yaml:"name"`
	MemoryMiB int64  `yaml:"memory_mib"`
	Cores     int    `yaml:"cores"`
	Bitness   string `yaml:"bitness"`
}

// Subject names the virtualization stack under test for subject-keyed runs.
type Subject struct {
	Name    string `yaml:"name"`
	Bitness string `yaml:"bitness"`
}

// Guest is one guest configuration within the run.
type Guest struct {
	Seq     int    `yaml:"seq"`
	Display int    `yaml:"display"`
	MAC     string `yaml:"mac"`

	Image  string `yaml:"image"`
	Format string `yaml:"format"`
	OSType string `yaml:"os_type"`

	Test    string `yaml:"test"`
	Command string `yaml:"command"`

	Bitness   string `yaml:"bitness"`
	Cores     int    `yaml:"cores"`
	MemoryMiB int64  `yaml:"memory_mib"`
	ShadowMiB int64  `yaml:"shadow_mib"`
	HAP       bool   `yaml:"hap"`

	TimeoutSec int `yaml:"timeout_sec"`
	RuntimeSec int `yaml:"runtime_sec"`
}

// Build converts a planned run into its precondition document.
func Build(run *scheduler.Run) *Document {
	doc := &Document{
		Version: Version,
		RunID:   run.ID,
		Host: Host{
			Name:      run.Host.Name,
			MemoryMiB: run.Host.MemoryMiB,
			Cores:     run.Host.Cores,
			Bitness:   run.Host.Bitness.String(),
		},
	}
	if run.Subject != nil {
		doc.Subject = &Subject{
			Name:    run.Subject.Name,
			Bitness: run.Subject.Bitness.String(),
		}
	}
	for _, g := range run.Guests {
		doc.Guests = append(doc.Guests, Guest{
			Seq:        g.Seq,
			Display:    g.Display,
			MAC:        g.MAC,
			Image:      g.Image,
			Format:     g.Format,
			OSType:     g.OSType,
			Test:       g.Test,
			Command:    g.Command,
			Bitness:    g.Bitness.String(),
			Cores:      g.Cores,
			MemoryMiB:  g.MemoryMiB,
			ShadowMiB:  g.ShadowMiB,
			HAP:        g.HAP,
			TimeoutSec: g.TimeoutSec,
			RuntimeSec: g.RuntimeSec,
		})
	}
	return doc
}

// Marshal renders the document as YAML.
func (d *Document) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal precondition: %w", err)
	}
	return out, nil
}

// Parse decodes a YAML precondition document.
func Parse(data []byte) (*Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse precondition: %w", err)
	}
	return &d, nil
}
