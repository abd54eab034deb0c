package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/Tinywan/redis-stream-sub000/internal/queue"
	"github.com/urfave/cli/v2"
)

func publish(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("publish takes exactly one payload argument", 2)
	}

	payload, err := parsePayload(c.Args().First(), c.Bool("json"))
	if err != nil {
		return err
	}
	metadata, err := parseMetadata(c.StringSlice("meta"))
	if err != nil {
		return err
	}

	rt, err := setup(c.Context, c)
	if err != nil {
		return err
	}
	defer rt.Close()

	delay := c.Duration("delay")
	id, err := rt.queue.Schedule(c.Context, payload, metadata, delay)
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	return json.NewEncoder(c.App.Writer).Encode(map[string]interface{}{
		"id":      id,
		"delayed": delay > 0,
	})
}

func stats(c *cli.Context) error {
	rt, err := setup(c.Context, c)
	if err != nil {
		return err
	}
	defer rt.Close()

	s, err := rt.queue.Stats(c.Context)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func audit(c *cli.Context) error {
	rt, err := setup(c.Context, c)
	if err != nil {
		return err
	}
	defer rt.Close()

	enc := json.NewEncoder(c.App.Writer)
	n, err := rt.queue.Audit(c.Context, queue.HandlerFunc(func(_ context.Context, msg *domain.Message) error {
		return enc.Encode(msg)
	}), c.Int("limit"))
	if err != nil {
		return fmt.Errorf("audit stopped after %d messages: %w", n, err)
	}

	rt.logger.Info("Audit complete", "messages", n)
	return nil
}

// parsePayload keeps text as is; with asJSON it must be a valid JSON document
func parsePayload(raw string, asJSON bool) (interface{}, error) {
	if !asJSON {
		return raw, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", domain.ErrInvalidInput)
	}
	return json.RawMessage(raw), nil
}

// parseMetadata turns key=value pairs into a map
func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	metadata := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: metadata %q must be key=value", domain.ErrInvalidInput, pair)
		}
		metadata[key] = value
	}

	if err := domain.ValidateMetadata(metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}
