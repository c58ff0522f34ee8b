package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/rexbrahh/amm-arb/events"
	natsx "github.com/rexbrahh/amm-arb/sinks/nats"
)

// fixtureEntry is one recorded engine record. Record holds the JSON body
// exactly as the engine publishes it for Kind.
type fixtureEntry struct {
	Kind        events.Kind     `json:"kind"`
	Record      json.RawMessage `json:"record"`
	SleepMillis int             `json:"sleep_ms"`
}

type recordPublisher interface {
	PublishOpportunity(ctx context.Context, opp events.Opportunity) error
	PublishExecution(ctx context.Context, exec events.Execution) error
	PublishPoolSnapshot(ctx context.Context, snap events.PoolSnapshot) error
}

func main() {
	inputPath := flag.String("input", "cmd/tools/sinkreplay/testdata/sample.json", "path to record fixture (JSON)")
	natsURL := flag.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	stream := flag.String("stream", "ARB", "JetStream stream name")
	subjectRoot := flag.String("subject-root", "arb.sol", "subject root for publishing")
	publishDelay := flag.Int("delay-ms", 0, "delay in milliseconds between records")
	createStream := flag.Bool("create-stream", true, "create the stream when missing")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	entries, err := loadFixture(*inputPath)
	if err != nil {
		logger.Fatal("load fixture", zap.Error(err))
	}

	cfg := natsx.DefaultConfig()
	cfg.URL = *natsURL
	cfg.Stream = *stream
	cfg.SubjectRoot = *subjectRoot
	pub, err := natsx.NewPublisher(cfg, logger, nil)
	if err != nil {
		logger.Fatal("init publisher", zap.Error(err))
	}
	defer pub.Close()
	if *createStream {
		if err := pub.EnsureStream(); err != nil {
			logger.Fatal("ensure stream", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for idx, entry := range entries {
		if err := publishEntry(ctx, pub, entry); err != nil {
			logger.Fatal("publish record", zap.Int("index", idx), zap.String("kind", string(entry.Kind)), zap.Error(err))
		}
		delay := entry.SleepMillis
		if delay == 0 {
			delay = *publishDelay
		}
		if delay > 0 {
			time.Sleep(time.Duration(delay) * time.Millisecond)
		}
	}

	logger.Info("replay complete", zap.Int("records", len(entries)))
}

func loadFixture(path string) ([]fixtureEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	var entries []fixtureEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return entries, nil
}

func publishEntry(ctx context.Context, pub recordPublisher, entry fixtureEntry) error {
	switch entry.Kind {
	case events.KindOpportunity:
		var opp events.Opportunity
		if err := json.Unmarshal(entry.Record, &opp); err != nil {
			return err
		}
		return pub.PublishOpportunity(ctx, opp)
	case events.KindExecution:
		var exec events.Execution
		if err := json.Unmarshal(entry.Record, &exec); err != nil {
			return err
		}
		return pub.PublishExecution(ctx, exec)
	case events.KindPoolSnapshot:
		var snap events.PoolSnapshot
		if err := json.Unmarshal(entry.Record, &snap); err != nil {
			return err
		}
		return pub.PublishPoolSnapshot(ctx, snap)
	default:
		return fmt.Errorf("unsupported record kind %q", entry.Kind)
	}
}
