package crucible

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/crucible-edu/crucible/judge"
	"github.com/crucible-edu/crucible/model"
	"github.com/crucible-edu/crucible/subject"
)

type cannedJudge struct{}

func (cannedJudge) QuestionBank(_ context.Context, _ judge.Context, n int) ([]string, error) {
	bank := make([]string, n)
	for i := range bank {
		bank[i] = fmt.Sprintf("question %d", i+1)
	}
	return bank, nil
}

func (cannedJudge) OpeningChallenge(context.Context, judge.Context) (string, error) {
	return "defend your design", nil
}

func (cannedJudge) Evaluate(context.Context, judge.Context, model.Mode, string, string) (*judge.Result, error) {
	return &judge.Result{Verdict: model.Verdict{Score: 5}}, nil
}

func testApp(t *testing.T) *App {
	t.Helper()
	app, err := NewBuilder().
		WithConfig(Config{DataDir: t.TempDir()}).
		WithJudge(cannedJudge{}).
		WithSubjects(subject.NewStatic([]subject.Subject{
			{ID: "acme/thesis", Title: "thesis"},
		})).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = app.engine.Store().Close() })
	return app
}

// All driving surfaces (HTTP handler, channels) must hang off the one engine
// a single Build produces, so the per-subject session limit holds across
// them.
func TestBuiltAppSharesOneEngine(t *testing.T) {
	app := testApp(t)

	if app.Engine() == nil {
		t.Fatal("expected a built engine")
	}
	if app.Engine() != app.engine {
		t.Fatal("Engine() must return the engine the app serves")
	}

	// One surface starts a session; any other surface on the same app must
	// see the subject as taken.
	ctx := context.Background()
	if _, err := app.Engine().Create(ctx, "acme/thesis", model.ModeViva); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := app.Engine().Create(ctx, "acme/thesis", model.ModeBattle)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict for second session on same subject, got %v", err)
	}
}

type noopChannel struct{ name string }

func (c noopChannel) Name() string                  { return c.name }
func (c noopChannel) Run(ctx context.Context) error { <-ctx.Done(); return nil }

func TestAddChannelAfterBuild(t *testing.T) {
	app := testApp(t)

	app.AddChannel(noopChannel{name: "slack"})
	app.AddChannel(noopChannel{name: "irc"})

	if len(app.channels) != 2 {
		t.Fatalf("expected 2 attached channels, got %d", len(app.channels))
	}
	if app.channels[0].Name() != "slack" || app.channels[1].Name() != "irc" {
		t.Fatal("channels must be attached in order")
	}
}
