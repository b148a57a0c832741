package main

import (
	"fmt"
	"sort"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/virtbench/virtbench/internal/domain"
	"github.com/virtbench/virtbench/internal/precondition"
	"github.com/virtbench/virtbench/internal/scheduler"
)

func planCommand() *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "plan one test run for a host and print its precondition",
		ArgsUsage: "HOST",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "subject",
				Usage: "plan against this test subject's schedule instead of the host's",
			},
			&cli.BoolFlag{
				Name:  "rotate",
				Usage: "plan against the host's next test subject in rotation",
			},
			&cli.StringFlag{
				Name:  "bitness",
				Value: "32",
				Usage: "subject bitness (with --subject)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "do not mark the scheduled combinations done",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected HOST")
			}
			hostname := c.Args().First()

			e, err := setup(c.Context)
			if err != nil {
				return err
			}
			defer e.close()

			var alloc *scheduler.Allocator
			if c.String("subject") != "" || c.Bool("rotate") {
				bits, err := domain.ParseBitness(c.String("bitness"))
				if err != nil {
					return err
				}
				alloc, err = scheduler.NewSubjectAllocator(c.Context, e.schedule,
					e.cfg.Scheduler, e.logger, hostname, c.String("subject"), bits)
				if err != nil {
					return err
				}
			} else {
				alloc, err = scheduler.NewHostAllocator(c.Context, e.schedule,
					e.cfg.Scheduler, e.logger, hostname)
				if err != nil {
					return err
				}
			}

			run, err := alloc.Plan(c.Context)
			if err != nil {
				return err
			}
			payload, err := precondition.Build(run).Marshal()
			if err != nil {
				return err
			}

			if !c.Bool("dry-run") {
				if err := alloc.Finalize(c.Context, run); err != nil {
					return err
				}
			}
			fmt.Print(string(payload))
			return nil
		},
	}
}

func prepCommand() *cli.Command {
	return &cli.Command{
		Name:      "prep",
		Usage:     "plan, enqueue, and commit runs for a set of hosts",
		ArgsUsage: "HOST...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "subject",
				Usage: "prepare subject-keyed runs for this test subject",
			},
			&cli.BoolFlag{
				Name:  "rotate",
				Usage: "prepare subject-keyed runs, rotating each host's subject",
			},
			&cli.StringFlag{
				Name:  "bitness",
				Value: "32",
				Usage: "subject bitness (with --subject)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("expected at least one HOST")
			}
			hostnames := c.Args().Slice()

			e, err := setup(c.Context)
			if err != nil {
				return err
			}
			defer e.close()

			r, cleanup, err := e.newRunner(c.Context)
			if err != nil {
				return err
			}
			defer cleanup()

			if c.String("subject") != "" || c.Bool("rotate") {
				bits, err := domain.ParseBitness(c.String("bitness"))
				if err != nil {
					return err
				}
				return r.PrepareSubjectRuns(c.Context, hostnames, c.String("subject"), bits)
			}
			return r.PrepareHostRuns(c.Context, hostnames)
		},
	}
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:      "runs",
		Usage:     "show the most recently prepared run per host",
		ArgsUsage: "[HOST]",
		Action: func(c *cli.Context) error {
			locks, logger, err := locksEnv()
			if err != nil {
				return err
			}
			defer locks.Close()
			defer logger.Sync()

			w := newTable()
			fmt.Fprintln(w, "HOST\tRUN\tGUESTS\tPREPARED")

			if c.NArg() == 1 {
				marker, err := locks.GetRunMarker(c.Context, c.Args().First())
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					c.Args().First(), marker.RunID, marker.Guests,
					marker.PreparedAt.Format(time.RFC3339))
				return w.Flush()
			}

			markers, err := locks.ListRunMarkers(c.Context)
			if err != nil {
				return err
			}
			hosts := make([]string, 0, len(markers))
			for host := range markers {
				hosts = append(hosts, host)
			}
			sort.Strings(hosts)
			for _, host := range hosts {
				m := markers[host]
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					host, m.RunID, m.Guests, m.PreparedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}
