package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	crucible "github.com/crucible-edu/crucible"
	channelSlack "github.com/crucible-edu/crucible/channel/slack"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Crucible server",
	Long:  "Start the Crucible API server that runs evaluation sessions against an AI judge.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load config file into environment (non-destructive).
	loadConfigFileIntoEnv()

	// Validate required env vars.
	if os.Getenv("ANTHROPIC_API_KEY") == "" && os.Getenv("OPENAI_API_KEY") == "" {
		return fmt.Errorf("at least one of ANTHROPIC_API_KEY or OPENAI_API_KEY is required")
	}

	cfg := crucible.Config{
		ServerAddr:     envOrDefault("CRUCIBLE_ADDR", ":7080"),
		DataDir:        envOrDefault("CRUCIBLE_DATA_DIR", ""),
		VivaQuestions:  envOrIntDefault("CRUCIBLE_VIVA_QUESTIONS", 3),
		MaxBattleTurns: envOrIntDefault("CRUCIBLE_MAX_BATTLE_TURNS", 20),
		JudgeTimeout:   envOrDurationDefault("CRUCIBLE_JUDGE_TIMEOUT", 30*time.Second),
		IdleTimeout:    envOrDurationDefault("CRUCIBLE_IDLE_TIMEOUT", 30*time.Minute),
		SweepInterval:  envOrDurationDefault("CRUCIBLE_SWEEP_INTERVAL", time.Minute),
	}

	app, err := crucible.NewBuilder().WithConfig(cfg).Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	// Attach the Slack channel if configured. The bot is constructed from
	// the built app's engine so both surfaces share one session registry.
	slackBotToken := os.Getenv("SLACK_BOT_TOKEN")
	slackAppToken := os.Getenv("SLACK_APP_TOKEN")
	if slackBotToken != "" && slackAppToken != "" {
		slackBot := channelSlack.NewBot(
			slackBotToken,
			slackAppToken,
			app.Engine().Store(),
			app.Engine().Bus(),
			app.Engine(),
		)
		app.AddChannel(slackBot)
		fmt.Println("Slack bot enabled (Socket Mode)")
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	return app.Start(ctx)
}

// loadConfigFileIntoEnv reads ~/.crucible/config.env and sets any values not
// already present in the environment.
func loadConfigFileIntoEnv() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, ".crucible", "config.env")
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrIntDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDurationDefault(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
