// Package crucible is the top-level entry point for the Crucible framework.
//
// Use the Builder to compose a custom Crucible application:
//
//	app, err := crucible.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := crucible.NewBuilder().
//	    WithStore(myStore).
//	    WithJudge(myJudge).
//	    WithSubjects(myDirectory).
//	    Build()
package crucible

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/crucible-edu/crucible/channel"
	"github.com/crucible-edu/crucible/engine"
	"github.com/crucible-edu/crucible/eventbus"
	"github.com/crucible-edu/crucible/httpapi"
	"github.com/crucible-edu/crucible/judge"
	"github.com/crucible-edu/crucible/store"
	"github.com/crucible-edu/crucible/subject"
)

// Config holds top-level configuration for a Crucible application.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (default ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.crucible").
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// VivaQuestions is the number of questions in a viva bank (default 3).
	VivaQuestions int

	// MaxBattleTurns caps the length of a battle before the Boss wins by
	// attrition (default 20).
	MaxBattleTurns int

	// JudgeTimeout bounds each judge call (default 30s).
	JudgeTimeout time.Duration

	// IdleTimeout is how long a session may sit without activity before
	// it is abandoned (default 30m).
	IdleTimeout time.Duration

	// SweepInterval is how often idle sessions are checked (default 1m).
	SweepInterval time.Duration
}

// Builder constructs a Crucible App.
type Builder struct {
	config   Config
	store    store.SessionStore
	bus      eventbus.Bus
	judge    judge.Client
	subjects subject.Directory
	channels []channel.Channel
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the session store implementation.
func (b *Builder) WithStore(s store.SessionStore) *Builder {
	b.store = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithJudge sets the judge implementation.
func (b *Builder) WithJudge(j judge.Client) *Builder {
	b.judge = j
	return b
}

// WithSubjects sets the subject directory implementation.
func (b *Builder) WithSubjects(d subject.Directory) *Builder {
	b.subjects = d
	return b
}

// WithChannel adds a channel (Slack, etc.) to the application.
func (b *Builder) WithChannel(ch channel.Channel) *Builder {
	b.channels = append(b.channels, ch)
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	eng := engine.New(
		engine.Config{
			VivaQuestions:  b.config.VivaQuestions,
			MaxBattleTurns: b.config.MaxBattleTurns,
			JudgeTimeout:   b.config.JudgeTimeout,
			IdleTimeout:    b.config.IdleTimeout,
			SweepInterval:  b.config.SweepInterval,
		},
		b.store,
		b.bus,
		b.judge,
		b.subjects,
	)

	handler := httpapi.New(eng)

	return &App{
		config:   b.config,
		engine:   eng,
		handler:  handler,
		channels: b.channels,
	}, nil
}

// App is a running Crucible application.
type App struct {
	config   Config
	engine   *engine.Engine
	handler  *httpapi.Handler
	channels []channel.Channel
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// AddChannel attaches a channel to a built App. Channels that need the
// engine (store, bus, session operations) are constructed after Build and
// attached here so every surface drives the same engine instance. Must be
// called before Start.
func (a *App) AddChannel(ch channel.Channel) {
	a.channels = append(a.channels, ch)
}

// Start starts the HTTP server and all channels. Blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.engine.Start(ctx)

	// Start channels.
	for _, ch := range a.channels {
		ch := ch
		go func() {
			if err := ch.Run(ctx); err != nil {
				log.Printf("%s channel error: %v", ch.Name(), err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Crucible server listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	a.engine.Stop()
	return a.engine.Store().Close()
}
