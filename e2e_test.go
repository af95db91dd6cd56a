// End-to-end tests for the Crucible server stack.
//
// This test exercises the full server stack:
//   - Real HTTP router (chi)
//   - Real SQLite store (WAL mode, temp dir)
//   - Real event bus (in-memory pub/sub)
//   - Fake judge (deterministic verdicts)
//   - Static subject directory
//
// The only thing simulated is the judge LLM backend. Everything else — HTTP
// routing, engine orchestration, store persistence, event streaming — is
// real production code.
//
// Does NOT require API keys or network access.
package crucible_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	crucible "github.com/crucible-edu/crucible"
	"github.com/crucible-edu/crucible/engine"
	"github.com/crucible-edu/crucible/eventbus"
	"github.com/crucible-edu/crucible/httpapi"
	"github.com/crucible-edu/crucible/judge"
	"github.com/crucible-edu/crucible/model"
	sqliteStore "github.com/crucible-edu/crucible/store/sqlite"
	"github.com/crucible-edu/crucible/subject"
)

// ---------------------------------------------------------------------------
// Fake judge: deterministic verdicts, no LLM
// ---------------------------------------------------------------------------

// fakeJudge scores each viva answer by its length in words and deals battle
// damage the same way: long answers hit the Boss, short answers get you hit.
type fakeJudge struct {
	mu    sync.Mutex
	calls int
}

func (j *fakeJudge) QuestionBank(_ context.Context, subj judge.Context, n int) ([]string, error) {
	bank := make([]string, n)
	for i := range bank {
		bank[i] = fmt.Sprintf("Question %d about %s?", i+1, subj.Title)
	}
	return bank, nil
}

func (j *fakeJudge) OpeningChallenge(_ context.Context, subj judge.Context) (string, error) {
	return "Defend the architecture of " + subj.Title + "!", nil
}

func (j *fakeJudge) Evaluate(_ context.Context, _ judge.Context, mode model.Mode, _, response string) (*judge.Result, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()

	words := len(strings.Fields(response))
	switch mode {
	case model.ModeViva:
		score := words
		if score > model.MaxScore {
			score = model.MaxScore
		}
		return &judge.Result{
			Verdict: model.Verdict{Score: score, Feedback: "graded by word count"},
		}, nil
	default:
		res := &judge.Result{NextPrompt: "And what about failure modes?"}
		if words >= 5 {
			res.Verdict = model.Verdict{JudgeDamage: 50, Feedback: "a solid hit"}
		} else {
			res.Verdict = model.Verdict{ParticipantDamage: 50, Feedback: "the Boss counters"}
		}
		return res, nil
	}
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type e2eHarness struct {
	handler *httpapi.Handler
	judge   *fakeJudge
	eng     *engine.Engine
}

func setupE2E(t *testing.T) *e2eHarness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	st, err := sqliteStore.New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	bus := eventbus.NewInMemoryBus()
	j := &fakeJudge{}
	subjects := subject.NewStatic([]subject.Subject{
		{ID: "myorg/myapp", Title: "myapp", Abstract: "a rate limiter", TechStack: []string{"Go"}},
	})

	eng := engine.New(engine.Config{
		VivaQuestions:  3,
		MaxBattleTurns: 20,
		JudgeTimeout:   5 * time.Second,
		IdleTimeout:    30 * time.Minute,
		SweepInterval:  time.Minute,
	}, st, bus, j, subjects)

	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)
	t.Cleanup(func() {
		cancel()
		eng.Stop()
	})

	handler := httpapi.New(eng)
	return &e2eHarness{handler: handler, judge: j, eng: eng}
}

// do executes an HTTP request against the handler and returns the response recorder.
func (h *e2eHarness) do(method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.handler.Router().ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// E2E Tests
// ---------------------------------------------------------------------------

// TestE2E_VivaFullLifecycle tests the happy path:
// POST session → answer/advance through the bank → finish → COMPLETED.
// Then verifies GET session, GET events (SSE), and GET sessions list.
func TestE2E_VivaFullLifecycle(t *testing.T) {
	h := setupE2E(t)

	// 1. Create session via API.
	w := h.do("POST", "/api/sessions", `{"subject":"myorg/myapp","mode":"viva"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created model.Session
	json.NewDecoder(w.Body).Decode(&created)
	if created.ID == "" {
		t.Fatal("expected non-empty session ID")
	}
	if len(created.Turns) != 1 {
		t.Fatalf("expected the first question on creation, got %d turns", len(created.Turns))
	}
	t.Logf("Created session %s (first question: %s)", created.ID, created.Turns[0].Prompt)

	// 2. Answer all three questions; answers of 6, 9, and 2 words.
	answers := []string{
		"the limiter uses a sliding window",
		"each bucket refills at a fixed rate per key",
		"not sure",
	}
	for i, answer := range answers {
		w = h.do("POST", "/api/sessions/"+created.ID+"/responses", fmt.Sprintf(`{"response":%q}`, answer))
		if w.Code != http.StatusOK {
			t.Fatalf("answer %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
		if i < len(answers)-1 {
			w = h.do("POST", "/api/sessions/"+created.ID+"/advance", "")
			if w.Code != http.StatusOK {
				t.Fatalf("advance %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
			}
		}
	}

	// 3. Finish and verify the final scorecard.
	w = h.do("POST", "/api/sessions/"+created.ID+"/finish", "")
	if w.Code != http.StatusOK {
		t.Fatalf("finish: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var final model.Session
	json.NewDecoder(w.Body).Decode(&final)
	if final.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %q", final.Status)
	}
	wantScores := []int{6, 9, 2}
	for i, want := range wantScores {
		if final.Turns[i].Verdict == nil || final.Turns[i].Verdict.Score != want {
			t.Fatalf("turn %d: expected score %d, got %+v", i, want, final.Turns[i].Verdict)
		}
	}

	// 4. Verify events stored in the database.
	events, err := h.eng.Store().GetEvents(created.ID, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	eventTypes := map[string]int{}
	for _, ev := range events {
		eventTypes[ev.Type]++
	}
	if eventTypes["prompt"] != 3 {
		t.Fatalf("expected 3 'prompt' events, got %d", eventTypes["prompt"])
	}
	if eventTypes["outcome"] == 0 {
		t.Fatal("expected an 'outcome' event")
	}
	t.Logf("Events stored: %v (total %d)", eventTypes, len(events))

	// 5. Verify SSE endpoint streams historical events.
	// The SSE handler is long-lived, so we run it in a goroutine with a
	// context that we cancel after reading the buffered historical events.
	sseCtx, sseCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer sseCancel()
	sseReq := httptest.NewRequest("GET", "/api/sessions/"+created.ID+"/events", nil)
	sseReq = sseReq.WithContext(sseCtx)
	sseW := httptest.NewRecorder()

	sseDone := make(chan struct{})
	go func() {
		defer close(sseDone)
		h.handler.Router().ServeHTTP(sseW, sseReq)
	}()
	<-sseDone

	sseEventCount := 0
	sseScanner := bufio.NewScanner(sseW.Body)
	for sseScanner.Scan() {
		if strings.HasPrefix(sseScanner.Text(), "data: ") {
			sseEventCount++
		}
	}
	if sseEventCount == 0 {
		t.Fatal("expected SSE endpoint to stream historical events")
	}
	t.Logf("SSE streamed %d historical events", sseEventCount)

	// 6. Verify session in list endpoint.
	w = h.do("GET", "/api/sessions", "")
	var sessions []model.Session
	json.NewDecoder(w.Body).Decode(&sessions)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].ID != created.ID {
		t.Fatalf("expected session %s, got %s", created.ID, sessions[0].ID)
	}
}

// TestE2E_BattleToVictory plays a battle with strong answers until the Boss
// falls, then verifies the session is archived with the outcome.
func TestE2E_BattleToVictory(t *testing.T) {
	h := setupE2E(t)

	w := h.do("POST", "/api/sessions", `{"subject":"myorg/myapp","mode":"battle"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created model.Session
	json.NewDecoder(w.Body).Decode(&created)
	if created.ParticipantHP != model.MaxHP || created.JudgeHP != model.MaxHP {
		t.Fatalf("expected full HP pools, got %d/%d", created.ParticipantHP, created.JudgeHP)
	}

	// Two 50-damage hits finish the Boss.
	var final model.Session
	for i := 0; i < 2; i++ {
		w = h.do("POST", "/api/sessions/"+created.ID+"/responses",
			`{"response":"the dead letter queue absorbs poison messages cleanly"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("turn %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
		var result struct {
			Session model.Session `json:"session"`
		}
		json.NewDecoder(w.Body).Decode(&result)
		final = result.Session
	}

	if final.Status != model.StatusVictory {
		t.Fatalf("expected victory, got %q", final.Status)
	}
	if final.JudgeHP != 0 || final.ParticipantHP != model.MaxHP {
		t.Fatalf("expected HP %d/0, got %d/%d", model.MaxHP, final.ParticipantHP, final.JudgeHP)
	}

	// Terminal session survives in the archive.
	w = h.do("GET", "/api/sessions/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var archived model.Session
	json.NewDecoder(w.Body).Decode(&archived)
	if archived.Status != model.StatusVictory {
		t.Fatalf("archived session: expected victory, got %q", archived.Status)
	}

	// And further submissions are rejected.
	w = h.do("POST", "/api/sessions/"+created.ID+"/responses", `{"response":"one more hit"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

// TestE2E_SessionNotFound verifies 404 for non-existent sessions.
func TestE2E_SessionNotFound(t *testing.T) {
	h := setupE2E(t)

	w := h.do("GET", "/api/sessions/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// TestE2E_HealthCheck verifies the /health endpoint.
func TestE2E_HealthCheck(t *testing.T) {
	h := setupE2E(t)

	w := h.do("GET", "/health", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("expected 'ok', got %q", w.Body.String())
	}
}

// Compile-time check that top-level types are referenced.
var _ = crucible.Config{}
