package main

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/virtbench/virtbench/internal/repository/redis"
)

func queueCommand() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "consume and inspect the run queue",
		Subcommands: []*cli.Command{
			{
				Name:  "next",
				Usage: "pop the next run and print its precondition",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "queue",
						Usage: "pop from this queue instead of picking a subject queue by priority",
					},
				},
				Action: func(c *cli.Context) error {
					q, logger, err := queueEnv()
					if err != nil {
						return err
					}
					defer q.Close()
					defer logger.Sync()

					name := c.String("queue")
					if name == "" {
						name, err = q.PickQueue(c.Context, rand.New(rand.NewSource(time.Now().UnixNano())))
						if err != nil {
							return err
						}
					}
					item, err := q.Dequeue(c.Context, name)
					if errors.Is(err, redis.ErrQueueEmpty) {
						return fmt.Errorf("queue %q: %w", name, err)
					}
					if err != nil {
						return err
					}
					fmt.Print(string(item.Precondition))
					return nil
				},
			},
			{
				Name:      "pending",
				Usage:     "print the number of queued runs",
				ArgsUsage: "QUEUE",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected QUEUE")
					}
					q, logger, err := queueEnv()
					if err != nil {
						return err
					}
					defer q.Close()
					defer logger.Sync()

					n, err := q.Pending(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					fmt.Println(n)
					return nil
				},
			},
			{
				Name:  "watch",
				Usage: "print run events as they happen",
				Action: func(c *cli.Context) error {
					q, logger, err := queueEnv()
					if err != nil {
						return err
					}
					defer q.Close()
					defer logger.Sync()

					for event := range q.Subscribe(c.Context) {
						fmt.Printf("%s %s %s %s\n",
							event.Timestamp.Format(time.RFC3339), event.Type, event.Queue, event.RunID)
					}
					return nil
				},
			},
		},
	}
}
