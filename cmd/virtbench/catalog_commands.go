package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	cli "github.com/urfave/cli/v2"
)

func hostCommand() *cli.Command {
	return &cli.Command{
		Name:  "host",
		Usage: "manage test machines",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "register a host",
				ArgsUsage: "NAME MEMORY CORES BITNESS",
				Action: func(c *cli.Context) error {
					if c.NArg() != 4 {
						return fmt.Errorf("expected NAME MEMORY CORES BITNESS")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					_, err = e.catalog.AddHost(c.Context,
						c.Args().Get(0), c.Args().Get(1), c.Args().Get(2), c.Args().Get(3))
					return err
				},
			},
			{
				Name:      "del",
				Usage:     "remove a host and its schedule",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected NAME")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					return e.catalog.DeleteHost(c.Context, c.Args().First())
				},
			},
			{
				Name:      "state",
				Usage:     "enable or disable a host",
				ArgsUsage: "NAME enable|disable",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("expected NAME enable|disable")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					return e.catalog.SetHostState(c.Context, c.Args().Get(0), c.Args().Get(1))
				},
			},
			{
				Name:  "list",
				Usage: "list all hosts",
				Action: func(c *cli.Context) error {
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					hosts, err := e.catalog.ListHosts(c.Context)
					if err != nil {
						return err
					}
					w := newTable()
					fmt.Fprintln(w, "NAME\tMEMORY\tCORES\tBITS\tENABLED")
					for _, h := range hosts {
						fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%t\n",
							h.Name, h.MemoryMiB, h.Cores, h.Bitness, h.Enabled)
					}
					return w.Flush()
				},
			},
		},
	}
}

func subjectCommand() *cli.Command {
	return &cli.Command{
		Name:  "subject",
		Usage: "manage test subjects",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "register a test subject",
				ArgsUsage: "NAME BITNESS",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("expected NAME BITNESS")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					_, err = e.catalog.AddSubject(c.Context, c.Args().Get(0), c.Args().Get(1))
					return err
				},
			},
			{
				Name:      "del",
				Usage:     "remove a test subject and its schedule",
				ArgsUsage: "NAME BITNESS",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("expected NAME BITNESS")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					return e.catalog.DeleteSubject(c.Context, c.Args().Get(0), c.Args().Get(1))
				},
			},
			{
				Name:      "state",
				Usage:     "enable or disable a test subject",
				ArgsUsage: "NAME BITNESS enable|disable",
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return fmt.Errorf("expected NAME BITNESS enable|disable")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					return e.catalog.SetSubjectState(c.Context,
						c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
				},
			},
			{
				Name:  "list",
				Usage: "list all test subjects",
				Action: func(c *cli.Context) error {
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					subjects, err := e.catalog.ListSubjects(c.Context)
					if err != nil {
						return err
					}
					w := newTable()
					fmt.Fprintln(w, "NAME\tBITS\tPRIORITY\tENABLED")
					for _, s := range subjects {
						fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", s.Name, s.Bitness, s.Priority, s.Enabled)
					}
					return w.Flush()
				},
			},
		},
	}
}

func vendorCommand() *cli.Command {
	return &cli.Command{
		Name:  "vendor",
		Usage: "manage guest image vendors",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "register a vendor",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected NAME")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					_, err = e.catalog.AddVendor(c.Context, c.Args().First())
					return err
				},
			},
			{
				Name:      "del",
				Usage:     "remove a vendor with its images",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected NAME")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					return e.catalog.DeleteVendor(c.Context, c.Args().First())
				},
			},
			{
				Name:  "list",
				Usage: "list all vendors",
				Action: func(c *cli.Context) error {
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					vendors, err := e.catalog.ListVendors(c.Context)
					if err != nil {
						return err
					}
					for _, v := range vendors {
						fmt.Println(v.Name)
					}
					return nil
				},
			},
		},
	}
}

func osTypeCommand() *cli.Command {
	return &cli.Command{
		Name:  "os",
		Usage: "manage operating system types",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "register an OS type",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected NAME")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					_, err = e.catalog.AddOSType(c.Context, c.Args().First())
					return err
				},
			},
			{
				Name:      "del",
				Usage:     "remove an OS type with its images and tests",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected NAME")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					return e.catalog.DeleteOSType(c.Context, c.Args().First())
				},
			},
			{
				Name:  "list",
				Usage: "list all OS types",
				Action: func(c *cli.Context) error {
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					types, err := e.catalog.ListOSTypes(c.Context)
					if err != nil {
						return err
					}
					for _, t := range types {
						fmt.Println(t.Name)
					}
					return nil
				},
			},
		},
	}
}

func imageCommand() *cli.Command {
	return &cli.Command{
		Name:  "image",
		Usage: "manage guest images",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "register a guest image",
				ArgsUsage: "NAME FORMAT VENDOR OSTYPE BITNESS BIGMEM SMP",
				Action: func(c *cli.Context) error {
					if c.NArg() != 7 {
						return fmt.Errorf("expected NAME FORMAT VENDOR OSTYPE BITNESS BIGMEM SMP")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					_, err = e.catalog.AddImage(c.Context,
						c.Args().Get(0), c.Args().Get(1), c.Args().Get(2), c.Args().Get(3),
						c.Args().Get(4), c.Args().Get(5), c.Args().Get(6))
					return err
				},
			},
			{
				Name:      "del",
				Usage:     "remove a guest image and its schedule entries",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected NAME")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					return e.catalog.DeleteImage(c.Context, c.Args().First())
				},
			},
			{
				Name:      "state",
				Usage:     "enable or disable a guest image",
				ArgsUsage: "NAME enable|disable",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("expected NAME enable|disable")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					return e.catalog.SetImageState(c.Context, c.Args().Get(0), c.Args().Get(1))
				},
			},
			{
				Name:  "list",
				Usage: "list all guest images",
				Action: func(c *cli.Context) error {
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					images, err := e.catalog.ListImages(c.Context)
					if err != nil {
						return err
					}
					w := newTable()
					fmt.Fprintln(w, "NAME\tFORMAT\tVENDOR\tOS\tBITS\tBIGMEM\tSMP\tENABLED")
					for _, img := range images {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%t\t%t\n",
							img.Name, img.Format, img.Vendor, img.OSType,
							img.Bitness, img.Bigmem, img.SMP, img.Enabled)
					}
					return w.Flush()
				},
			},
		},
	}
}

func testCommand() *cli.Command {
	return &cli.Command{
		Name:  "test",
		Usage: "manage test programs",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "register a test program",
				ArgsUsage: "NAME OSTYPE COMMAND",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "timeout", Usage: "timeout in seconds"},
					&cli.IntFlag{Name: "runtime", Usage: "expected runtime in seconds"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return fmt.Errorf("expected NAME OSTYPE COMMAND")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					_, err = e.catalog.AddTest(c.Context,
						c.Args().Get(0), c.Args().Get(1), c.Args().Get(2),
						c.Int("timeout"), c.Int("runtime"))
					return err
				},
			},
			{
				Name:      "del",
				Usage:     "remove a test program and its schedule entries",
				ArgsUsage: "NAME OSTYPE",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("expected NAME OSTYPE")
					}
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					return e.catalog.DeleteTest(c.Context, c.Args().Get(0), c.Args().Get(1))
				},
			},
			{
				Name:  "list",
				Usage: "list all test programs",
				Action: func(c *cli.Context) error {
					e, err := setup(c.Context)
					if err != nil {
						return err
					}
					defer e.close()
					tests, err := e.catalog.ListTests(c.Context)
					if err != nil {
						return err
					}
					w := newTable()
					fmt.Fprintln(w, "NAME\tOS\tRUNTIME\tTIMEOUT\tCOMMAND")
					for _, t := range tests {
						fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
							t.Name, t.OSType, t.RuntimeSec, t.TimeoutSec, t.Command)
					}
					return w.Flush()
				},
			},
		},
	}
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}
