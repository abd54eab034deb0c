package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "streamq",
		Usage: "Redis stream message queue with delayed delivery and bounded retries",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, the scheduler and the metrics server",
				Flags:  serveFlags(),
				Action: serve,
			},
			{
				Name:   "scheduler",
				Usage:  "Promote due delayed messages into the live queue",
				Flags:  schedulerFlags(),
				Action: runScheduler,
			},
			{
				Name:   "consume",
				Usage:  "Claim messages and print them as JSON lines",
				Flags:  consumeFlags(),
				Action: consume,
			},
			{
				Name:      "publish",
				Usage:     "Enqueue a message, or schedule it with --delay",
				ArgsUsage: "<payload>",
				Flags:     publishFlags(),
				Action:    publish,
			},
			{
				Name:   "stats",
				Usage:  "Print queue statistics",
				Action: stats,
			},
			{
				Name:   "audit",
				Usage:  "Print live queue history without claiming anything",
				Flags:  auditFlags(),
				Action: audit,
			},
		},
	}
}
