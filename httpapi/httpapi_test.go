package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crucible-edu/crucible/engine"
	"github.com/crucible-edu/crucible/eventbus"
	"github.com/crucible-edu/crucible/judge"
	"github.com/crucible-edu/crucible/model"
	sqliteStore "github.com/crucible-edu/crucible/store/sqlite"
	"github.com/crucible-edu/crucible/subject"
)

// scriptedJudge returns canned content and a fixed verdict per call.
type scriptedJudge struct {
	mu      sync.Mutex
	verdict model.Verdict
	next    string
	err     error
}

func (j *scriptedJudge) QuestionBank(context.Context, judge.Context, int) ([]string, error) {
	return []string{"first question", "second question", "third question"}, nil
}

func (j *scriptedJudge) OpeningChallenge(context.Context, judge.Context) (string, error) {
	return "opening challenge", nil
}

func (j *scriptedJudge) Evaluate(context.Context, judge.Context, model.Mode, string, string) (*judge.Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return nil, j.err
	}
	return &judge.Result{Verdict: j.verdict, NextPrompt: j.next}, nil
}

// testHandler builds a Handler over an Engine wired to a real SQLite store,
// in-memory bus, and a scripted judge. Good enough for HTTP handler tests.
func testHandler(t *testing.T, j *scriptedJudge) *Handler {
	t.Helper()
	st, err := sqliteStore.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	subjects := subject.NewStatic([]subject.Subject{
		{ID: "acme/thesis", Title: "thesis", Abstract: "a key-value store"},
	})

	eng := engine.New(engine.Config{
		VivaQuestions:  3,
		MaxBattleTurns: 20,
		JudgeTimeout:   5 * time.Second,
		IdleTimeout:    30 * time.Minute,
		SweepInterval:  time.Minute,
	}, st, eventbus.NewInMemoryBus(), j, subjects)
	return New(eng)
}

func doJSON(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, h *Handler, mode string) model.Session {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/sessions", fmt.Sprintf(`{"subject":"acme/thesis","mode":%q}`, mode))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var sess model.Session
	json.NewDecoder(w.Body).Decode(&sess)
	return sess
}

func TestHealthEndpoint(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})

	w := doJSON(t, h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("expected 'ok', got %q", w.Body.String())
	}
}

func TestCreateSessionMissingSubject(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})

	w := doJSON(t, h, http.MethodPost, "/api/sessions", `{"mode":"viva"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateSessionInvalidMode(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})

	w := doJSON(t, h, http.MethodPost, "/api/sessions", `{"subject":"acme/thesis","mode":"kanban"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp errorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !strings.Contains(resp.Error, "invalid mode") {
		t.Fatalf("expected invalid mode error, got %q", resp.Error)
	}
}

func TestCreateSessionUnknownSubject(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})

	w := doJSON(t, h, http.MethodPost, "/api/sessions", `{"subject":"acme/missing","mode":"viva"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateVivaSession(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})

	sess := createSession(t, h, "viva")
	if sess.ID == "" {
		t.Fatal("expected non-empty session ID")
	}
	if sess.Mode != model.ModeViva {
		t.Fatalf("expected mode viva, got %q", sess.Mode)
	}
	if len(sess.Turns) != 1 || sess.Turns[0].Prompt != "first question" {
		t.Fatalf("expected first question on creation, got %+v", sess.Turns)
	}
}

func TestCreateSessionDefaultsToViva(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})

	w := doJSON(t, h, http.MethodPost, "/api/sessions", `{"subject":"acme/thesis"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var sess model.Session
	json.NewDecoder(w.Body).Decode(&sess)
	if sess.Mode != model.ModeViva {
		t.Fatalf("expected default mode viva, got %q", sess.Mode)
	}
}

func TestCreateDuplicateSessionConflicts(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})

	createSession(t, h, "viva")
	w := doJSON(t, h, http.MethodPost, "/api/sessions", `{"subject":"acme/thesis","mode":"battle"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListSessionsEmpty(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})

	w := doJSON(t, h, http.MethodGet, "/api/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sessions []*model.Session
	json.NewDecoder(w.Body).Decode(&sessions)
	if len(sessions) != 0 {
		t.Fatalf("expected 0 sessions, got %d", len(sessions))
	}
}

func TestGetSessionNotFound(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})

	w := doJSON(t, h, http.MethodGet, "/api/sessions/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetSession(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})
	created := createSession(t, h, "viva")

	w := doJSON(t, h, http.MethodGet, "/api/sessions/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sess model.Session
	json.NewDecoder(w.Body).Decode(&sess)
	if sess.ID != created.ID {
		t.Fatalf("expected session ID %q, got %q", created.ID, sess.ID)
	}
}

func TestSubmitResponseEmpty(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})
	created := createSession(t, h, "viva")

	w := doJSON(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/responses", `{"response":"  "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSubmitResponseTooLong(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})
	created := createSession(t, h, "viva")

	body := `{"response":"` + strings.Repeat("x", 10001) + `"}`
	w := doJSON(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/responses", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSubmitResponseResolvesTurn(t *testing.T) {
	j := &scriptedJudge{verdict: model.Verdict{Score: 7, Feedback: "solid"}}
	h := testHandler(t, j)
	created := createSession(t, h, "viva")

	w := doJSON(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/responses", `{"response":"my answer"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp submitResponseResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Turn.Verdict == nil || resp.Turn.Verdict.Score != 7 {
		t.Fatalf("expected score 7, got %+v", resp.Turn.Verdict)
	}
	if resp.Session.Status != model.StatusActive {
		t.Fatalf("expected active session, got %s", resp.Session.Status)
	}
}

func TestSubmitResponseJudgeDown(t *testing.T) {
	j := &scriptedJudge{err: fmt.Errorf("%w: timeout", model.ErrJudgeUnavailable)}
	h := testHandler(t, j)
	created := createSession(t, h, "viva")

	w := doJSON(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/responses", `{"response":"my answer"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAdvanceBeforeResolveConflicts(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})
	created := createSession(t, h, "viva")

	w := doJSON(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/advance", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVivaFlowOverHTTP(t *testing.T) {
	j := &scriptedJudge{verdict: model.Verdict{Score: 9, Feedback: "strong"}}
	h := testHandler(t, j)
	created := createSession(t, h, "viva")

	for i := 0; i < 3; i++ {
		w := doJSON(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/responses", `{"response":"answer"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("submit %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
		if i < 2 {
			w = doJSON(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/advance", "")
			if w.Code != http.StatusOK {
				t.Fatalf("advance %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
			}
			var turn model.Turn
			json.NewDecoder(w.Body).Decode(&turn)
			if turn.Prompt == "" {
				t.Fatalf("advance %d: expected a new prompt", i)
			}
		}
	}

	w := doJSON(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/finish", "")
	if w.Code != http.StatusOK {
		t.Fatalf("finish: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sess model.Session
	json.NewDecoder(w.Body).Decode(&sess)
	if sess.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", sess.Status)
	}
}

func TestBattleVictoryOverHTTP(t *testing.T) {
	j := &scriptedJudge{verdict: model.Verdict{JudgeDamage: 100, Feedback: "devastating"}, next: "again"}
	h := testHandler(t, j)
	created := createSession(t, h, "battle")

	w := doJSON(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/responses", `{"response":"airtight defense"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp submitResponseResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Session.Status != model.StatusVictory {
		t.Fatalf("expected victory, got %s", resp.Session.Status)
	}
	if resp.Session.JudgeHP != 0 {
		t.Fatalf("expected judge HP 0, got %d", resp.Session.JudgeHP)
	}

	// A terminal session rejects further submissions.
	w = doJSON(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/responses", `{"response":"more"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAbandonSession(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})
	created := createSession(t, h, "viva")

	w := doJSON(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/abandon", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sess model.Session
	json.NewDecoder(w.Body).Decode(&sess)
	if sess.Status != model.StatusAbandoned {
		t.Fatalf("expected abandoned, got %s", sess.Status)
	}

	w = doJSON(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/abandon", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double abandon, got %d", w.Code)
	}
}

func TestFinishBattleConflicts(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})
	created := createSession(t, h, "battle")

	w := doJSON(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/finish", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

// The event stream must not drop events published while the history replay
// runs, and must not repeat a replayed event when the bus redelivers it.
func TestSessionEventsDedupeAcrossReplay(t *testing.T) {
	h := testHandler(t, &scriptedJudge{})
	sess := createSession(t, h, "viva")

	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions/" + sess.ID + "/events")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	readIDs := func(n int) []int64 {
		t.Helper()
		var ids []int64
		timeout := time.After(2 * time.Second)
		for len(ids) < n {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed early, got ids %v", ids)
				}
				if rest, found := strings.CutPrefix(line, "id: "); found {
					id, err := strconv.ParseInt(rest, 10, 64)
					if err != nil {
						t.Fatalf("bad id line %q: %v", line, err)
					}
					ids = append(ids, id)
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %d events, got %v", n, ids)
			}
		}
		return ids
	}

	// Session creation stores a status and a prompt event; the replay must
	// deliver both. Once they arrive, the handler is subscribed.
	replayed := readIDs(2)

	// Redeliver an already-replayed event on the bus, then store and publish
	// a genuinely new one. Only the new one may reach the client.
	stored, err := h.engine.Store().GetEvents(sess.ID, 0)
	if err != nil || len(stored) == 0 {
		t.Fatalf("get events: %v", err)
	}
	h.engine.Bus().Publish(sess.ID, stored[0])

	late := &model.Event{
		SessionID: sess.ID,
		Type:      "status",
		Data:      "late update",
		CreatedAt: time.Now().UTC(),
	}
	if err := h.engine.Store().AddEvent(late); err != nil {
		t.Fatalf("add event: %v", err)
	}
	h.engine.Bus().Publish(sess.ID, late)

	got := readIDs(1)
	if got[0] != late.ID {
		t.Fatalf("expected fresh event %d after replay %v, got %d", late.ID, replayed, got[0])
	}
}
