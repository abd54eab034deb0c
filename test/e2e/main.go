// Command e2e runs a smoke test against a deployed `streamq serve`.
// Point it at a dedicated queue: it claims and resolves whatever it reads.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/client"
	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/google/uuid"
)

// Test configuration
const (
	DefaultBaseURL  = "http://localhost:8080"
	MaxWaitDuration = 30 * time.Second
	PollInterval    = 200 * time.Millisecond
	TestDelay       = 2 * time.Second
)

// TestResult tracks the result of each test
type TestResult struct {
	Name     string
	Passed   bool
	Error    error
	Duration time.Duration
}

func main() {
	fmt.Println("=== streamq E2E System Test ===")

	baseURL := os.Getenv("STREAMQ_URL")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	c := client.New(client.Config{BaseURL: baseURL, Timeout: 10 * time.Second}, logger)
	ctx := context.Background()
	runID := uuid.NewString()[:8]

	results := []TestResult{
		runTest("API Health Check", func() error {
			return c.Health(ctx)
		}),
		runTest("Publish, Consume and Ack", func() error {
			return testRoundTrip(ctx, c, runID)
		}),
		runTest("Delayed Delivery", func() error {
			return testDelayedDelivery(ctx, c, runID)
		}),
		runTest("Cancel Delayed Message", func() error {
			return testCancel(ctx, c, runID)
		}),
		runTest("Retry Budget Ends in Dead Letter", func() error {
			return testRetryBudget(ctx, c, runID)
		}),
	}

	fmt.Println("\n=== Test Results ===")
	failed := 0
	for _, result := range results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
			failed++
		}
		fmt.Printf("%s %s (%.2fs)\n", status, result.Name, result.Duration.Seconds())
		if result.Error != nil {
			fmt.Printf("   Error: %v\n", result.Error)
		}
	}

	fmt.Printf("\nTotal: %d | Passed: %d | Failed: %d\n", len(results), len(results)-failed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func runTest(name string, testFunc func() error) TestResult {
	fmt.Printf("Running: %s...\n", name)
	start := time.Now()
	err := testFunc()

	if err != nil {
		fmt.Printf("  Failed: %v\n", err)
	}
	return TestResult{
		Name:     name,
		Passed:   err == nil,
		Error:    err,
		Duration: time.Since(start),
	}
}

func testRoundTrip(ctx context.Context, c *client.Client, runID string) error {
	published, err := c.Publish(ctx, map[string]string{"run": runID}, map[string]string{"e2e": runID}, 0)
	if err != nil {
		return err
	}

	msg, err := awaitMessage(ctx, c, runID, MaxWaitDuration)
	if err != nil {
		return err
	}
	if msg.ID != published.ID {
		return fmt.Errorf("expected message %s, got %s", published.ID, msg.ID)
	}
	if msg.Attempts != 1 {
		return fmt.Errorf("expected attempts 1, got %d", msg.Attempts)
	}

	acked, err := c.Ack(ctx, msg.ID)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("ack reported nothing resolved")
	}
	return nil
}

func testDelayedDelivery(ctx context.Context, c *client.Client, runID string) error {
	start := time.Now()
	if _, err := c.Publish(ctx, "delayed", map[string]string{"e2e": runID}, TestDelay); err != nil {
		return err
	}

	msg, err := awaitMessage(ctx, c, runID, MaxWaitDuration)
	if err != nil {
		return err
	}
	if elapsed := time.Since(start); elapsed < TestDelay-time.Second {
		return fmt.Errorf("delivered after %v, before its %v delay", elapsed, TestDelay)
	}
	if msg.TransferredAt == nil {
		return errors.New("promoted message has no transferred_at")
	}

	fmt.Printf("  Delivered after %v\n", time.Since(start).Round(time.Millisecond))
	_, err = c.Ack(ctx, msg.ID)
	return err
}

func testCancel(ctx context.Context, c *client.Client, runID string) error {
	published, err := c.Publish(ctx, "cancelled", map[string]string{"e2e": runID}, time.Hour)
	if err != nil {
		return err
	}

	cancelled, err := c.Cancel(ctx, published.ID)
	if err != nil {
		return err
	}
	if !cancelled {
		return errors.New("cancel reported nothing removed")
	}

	again, err := c.Cancel(ctx, published.ID)
	if err != nil {
		return err
	}
	if again {
		return errors.New("second cancel removed something")
	}
	return nil
}

func testRetryBudget(ctx context.Context, c *client.Client, runID string) error {
	before, err := c.Stats(ctx)
	if err != nil {
		return err
	}

	if _, err := c.Publish(ctx, "poison", map[string]string{"e2e": runID}, 0); err != nil {
		return err
	}

	deliveries := 0
	for {
		msg, err := awaitMessage(ctx, c, runID, 5*time.Second)
		if errors.Is(err, errTimeout) {
			break
		}
		if err != nil {
			return err
		}
		deliveries++
		if msg.Attempts != deliveries {
			return fmt.Errorf("delivery %d reported attempts %d", deliveries, msg.Attempts)
		}
		if _, err := c.Nack(ctx, msg.ID, true); err != nil {
			return err
		}
	}

	after, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	if after.Dead != before.Dead+1 {
		return fmt.Errorf("expected dead count %d, got %d", before.Dead+1, after.Dead)
	}

	fmt.Printf("  Dropped after %d deliveries\n", deliveries)
	return nil
}

var errTimeout = errors.New("timed out waiting for message")

// awaitMessage polls until a message tagged with runID arrives.
// Messages from other runs are acked out of the way.
func awaitMessage(ctx context.Context, c *client.Client, runID string, wait time.Duration) (*domain.Message, error) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		msg, err := c.Consume(ctx)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			time.Sleep(PollInterval)
			continue
		}
		if msg.Metadata["e2e"] == runID {
			return msg, nil
		}
		if _, err := c.Ack(ctx, msg.ID); err != nil {
			return nil, err
		}
	}
	return nil, errTimeout
}
