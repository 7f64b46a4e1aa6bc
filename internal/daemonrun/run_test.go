package daemonrun

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"upright/internal/config"
	"upright/internal/ledger"
	"upright/internal/services"
	"upright/internal/testsupport"
)

func TestRunOnceDrainsInputAndWritesLogs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFixedAngle(90), testsupport.WithJournal())
	testsupport.WriteImage(t, filepath.Join(cfg.Paths.InputDir, "a.png"), testsupport.Pattern(3, 2))

	stats, err := Run(context.Background(), cfg, Options{Once: true, LogLevel: "debug"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Completed != 1 {
		t.Fatalf("expected one completed item, got %+v", stats)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.OutputDir, "a.png")); err != nil {
		t.Fatalf("expected output: %v", err)
	}
	if _, err := os.Stat(cfg.LogPath()); err != nil {
		t.Fatalf("expected log pointer at %s: %v", cfg.LogPath(), err)
	}

	journal, err := ledger.OpenJournal(cfg.JournalPath())
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer journal.Close()
	entries, err := journal.List(context.Background(), ledger.StateDone)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one journal entry, got %+v", entries)
	}
}

func TestRunRejectsNestedRoots(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.OutputDir = filepath.Join(cfg.Paths.InputDir, "out")
	if _, err := Run(context.Background(), cfg, Options{Once: true}); err == nil {
		t.Fatal("expected nested roots to be rejected")
	}
}

func TestRunFailsPreflightForMissingInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.RemoveAll(cfg.Paths.InputDir); err != nil {
		t.Fatal(err)
	}
	_, err := Run(context.Background(), cfg, Options{Once: true})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunFailsWhenDeciderUnavailable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Decider.Kind = config.DeciderCommand
	cfg.Decider.Command = "upright-missing-decider"
	if _, err := Run(context.Background(), cfg, Options{Once: true}); err == nil {
		t.Fatal("expected startup failure when the decider binary is missing")
	}
}

func TestEnsureCurrentLogPointerReplacesLink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "upright-1.log")
	second := filepath.Join(dir, "upright-2.log")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	current := filepath.Join(dir, "upright.log")
	if err := ensureCurrentLogPointer(current, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(current, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(current)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "upright-2.log" {
		t.Fatalf("pointer should follow the latest log, got %q", data)
	}
}
