package main

import (
	"github.com/urfave/cli/v2"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			EnvVars: []string{"LOG_LEVEL"},
			Value:   "info",
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis connection URL",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "queue",
			Aliases: []string{"q"},
			Usage:   "Queue name",
			EnvVars: []string{"QUEUE_NAME"},
		},
		&cli.StringFlag{
			Name:    "group",
			Aliases: []string{"g"},
			Usage:   "Consumer group",
			EnvVars: []string{"CONSUMER_GROUP"},
		},
		&cli.StringFlag{
			Name:    "consumer",
			Usage:   "Consumer name inside the group (random when empty)",
			EnvVars: []string{"CONSUMER_NAME"},
		},
		&cli.IntFlag{
			Name:    "retry-attempts",
			Usage:   "Redeliveries allowed after the first attempt",
			EnvVars: []string{"RETRY_ATTEMPTS"},
		},
		&cli.DurationFlag{
			Name:    "block-timeout",
			Usage:   "Upper bound of every blocking read",
			EnvVars: []string{"BLOCK_TIMEOUT"},
		},
		&cli.Uint64Flag{
			Name:    "memory-limit-mb",
			Usage:   "Stop consumer and scheduler loops above this heap size (0 disables)",
			EnvVars: []string{"MEMORY_LIMIT_MB"},
		},
		&cli.StringFlag{
			Name:    "mongo-uri",
			Usage:   "MongoDB URI for the dead letter archive (in-memory when empty)",
			EnvVars: []string{"MONGO_URI"},
		},
	}
}

func schedulerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "interval",
			Usage:   "Pause between scheduler ticks",
			EnvVars: []string{"SCHEDULER_INTERVAL"},
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "Maximum due tasks promoted per tick",
			EnvVars: []string{"SCHEDULER_BATCH_SIZE"},
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Metrics listen address (empty disables)",
			EnvVars: []string{"METRICS_ADDR"},
		},
	}
}

func serveFlags() []cli.Flag {
	return append(schedulerFlags(),
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "HTTP API port",
			EnvVars: []string{"HTTP_PORT"},
		},
		&cli.BoolFlag{
			Name:  "no-scheduler",
			Usage: "Serve the API without promoting delayed messages",
		},
	)
}

func consumeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "nack-on-failure",
			Usage: "Nack with retry when printing a message fails",
			Value: true,
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Metrics listen address (empty disables)",
			EnvVars: []string{"METRICS_ADDR"},
		},
	}
}

func publishFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "meta",
			Aliases: []string{"m"},
			Usage:   "Metadata as key=value, repeatable",
		},
		&cli.DurationFlag{
			Name:    "delay",
			Aliases: []string{"d"},
			Usage:   "Deliver no earlier than now + delay",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Validate the payload as JSON before publishing",
		},
	}
}

func auditFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "Maximum messages to print (0 prints all)",
			Value:   100,
		},
	}
}
