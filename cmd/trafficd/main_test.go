package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"trafficcore/internal/core"
	"trafficcore/pkg/domain"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(envMap(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != defaultAddr || !cfg.SeedChallans || cfg.Probability != core.DefaultViolationProbability {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.CycleInterval != 0 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigFromEnvAndFlags(t *testing.T) {
	cfg, err := loadConfig(envMap(map[string]string{
		envAddr:          ":9000",
		envSeed:          "42",
		envSeedChallans:  "false",
		envProbability:   "0.5",
		envLogLevel:      "debug",
		envCycleInterval: "2s",
	}), []string{"-addr", "127.0.0.1:7000"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := config{
		Addr:          "127.0.0.1:7000",
		Seed:          42,
		SeedChallans:  false,
		Probability:   0.5,
		LogLevel:      slog.LevelDebug,
		CycleInterval: 2 * time.Second,
	}
	if cfg != want {
		t.Fatalf("got %+v want %+v", cfg, want)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := []map[string]string{
		{envSeed: "-1"},
		{envSeedChallans: "maybe"},
		{envProbability: "1.5"},
		{envProbability: "abc"},
		{envLogLevel: "loud"},
		{envCycleInterval: "-1s"},
	}
	for _, env := range cases {
		if _, err := loadConfig(envMap(env), nil); err == nil {
			t.Fatalf("%v: expected error", env)
		}
	}
	if _, err := loadConfig(envMap(nil), []string{"-unknown"}); err == nil {
		t.Fatalf("expected flag error")
	}
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}

type countingCycler struct {
	mu    sync.Mutex
	calls map[string]int
	fail  bool
}

func (c *countingCycler) Areas() []domain.Area {
	return []domain.Area{{Name: "A", Lanes: []string{"1"}}, {Name: "B", Lanes: []string{"1"}}}
}

func (c *countingCycler) RunCycle(_ context.Context, area string) (core.CycleResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[area]++
	if c.fail {
		return core.CycleResult{}, errors.New("sensor offline")
	}
	return core.CycleResult{Area: area}, nil
}

func (c *countingCycler) count(area string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[area]
}

func TestRunCyclesVisitsEveryArea(t *testing.T) {
	for _, fail := range []bool{false, true} {
		c := &countingCycler{calls: map[string]int{}, fail: fail}
		var buf bytes.Buffer
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- runCycles(ctx, c, 5*time.Millisecond, newLogger(&buf, slog.LevelDebug)) }()

		deadline := time.Now().Add(5 * time.Second)
		for (c.count("A") < 2 || c.count("B") < 2) && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("runCycles: %v", err)
		}
		if c.count("A") < 2 || c.count("B") < 2 {
			t.Fatalf("expected repeated cycles, got %v", c.calls)
		}
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	t.Setenv(core.EnvStorageDriver, string(core.StorageMemory))
	t.Setenv("TRAFFICCORE_BLOB_DRIVER", "memory")

	ctx, cancel := context.WithCancel(context.Background())
	cfg := config{Addr: "127.0.0.1:0", Seed: 1, SeedChallans: true, Probability: 0.05, CycleInterval: time.Millisecond}
	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, newLogger(&buf, slog.LevelInfo)) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not stop")
	}
	if !strings.Contains(buf.String(), "seeded initial challans") {
		t.Fatalf("expected seeding log, got %s", buf.String())
	}
}

func TestRunFailsOnBadStorage(t *testing.T) {
	t.Setenv(core.EnvStorageDriver, "floppy")
	err := run(context.Background(), config{Addr: "127.0.0.1:0"}, newLogger(&bytes.Buffer{}, slog.LevelInfo))
	if err == nil || !strings.Contains(err.Error(), "open ledger") {
		t.Fatalf("expected ledger error, got %v", err)
	}
}
