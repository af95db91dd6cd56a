package crucible

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crucible-edu/crucible/eventbus"
	"github.com/crucible-edu/crucible/judge"
	sqliteStore "github.com/crucible-edu/crucible/store/sqlite"
	"github.com/crucible-edu/crucible/subject"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	// Config defaults.
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":7080"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.DatabasePath == "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "crucible.db")
	}
	if b.config.VivaQuestions == 0 {
		b.config.VivaQuestions = 3
	}
	if b.config.MaxBattleTurns == 0 {
		b.config.MaxBattleTurns = 20
	}
	if b.config.JudgeTimeout == 0 {
		b.config.JudgeTimeout = 30 * time.Second
	}
	if b.config.IdleTimeout == 0 {
		b.config.IdleTimeout = 30 * time.Minute
	}
	if b.config.SweepInterval == 0 {
		b.config.SweepInterval = time.Minute
	}

	// Ensure data dir exists.
	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Store.
	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	// Judge.
	if b.judge == nil {
		completer, err := judge.NewCompleterFromEnv()
		if err != nil {
			return fmt.Errorf("initializing judge: %w", err)
		}
		b.judge = judge.NewLLM(completer)
	}

	// Subject directory. With a GitHub token, subjects are repositories;
	// otherwise the directory is empty until the caller provides one.
	if b.subjects == nil {
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			b.subjects = subject.NewGitHub(token)
		} else {
			b.subjects = subject.NewStatic(nil)
		}
	}

	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crucible"
	}
	return filepath.Join(home, ".crucible")
}
