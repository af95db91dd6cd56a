// Package engine provides the session state machine and registry for
// Crucible. It orchestrates the turn cycle — prompt, response, judgment,
// state update — and owns the one-active-session-per-subject rule, per-
// session serialization, and terminal-state detection. It depends only on
// interfaces (store, eventbus, judge, subject).
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crucible-edu/crucible/combat"
	"github.com/crucible-edu/crucible/eventbus"
	"github.com/crucible-edu/crucible/judge"
	"github.com/crucible-edu/crucible/ledger"
	"github.com/crucible-edu/crucible/model"
	"github.com/crucible-edu/crucible/store"
	"github.com/crucible-edu/crucible/subject"
)

// fallbackChallenge is appended when the judge resolves a battle turn as
// ongoing but offers no next challenge.
const fallbackChallenge = "The Boss regroups and presses on: defend the part of your project you are least confident about."

// Config holds engine-specific configuration.
type Config struct {
	// VivaQuestions is the fixed question bank size for viva sessions.
	VivaQuestions int

	// MaxBattleTurns caps battle length; reaching the cap with both pools
	// still positive forces a defeat.
	MaxBattleTurns int

	// JudgeTimeout bounds each judge call. On timeout the turn stays
	// pending and the submission can be retried.
	JudgeTimeout time.Duration

	// IdleTimeout is how long an active session may go without turn
	// activity before the sweeper abandons it. Terminal sessions idle
	// past the same threshold are evicted from the live registry.
	IdleTimeout time.Duration

	// SweepInterval is how often the sweeper runs.
	SweepInterval time.Duration
}

// Engine is the session registry and orchestrator.
type Engine struct {
	config   Config
	store    store.SessionStore
	bus      eventbus.Bus
	judge    judge.Client
	subjects subject.Directory

	// mu guards the registry maps only, never in-session state. Lock
	// order is mu before session.mu; nothing holds both in the other
	// direction.
	mu        sync.Mutex
	sessions  map[string]*session
	bySubject map[string]string // subjectID -> active session ID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Engine with all dependencies.
func New(cfg Config, st store.SessionStore, bus eventbus.Bus, j judge.Client, subjects subject.Directory) *Engine {
	return &Engine{
		config:    cfg,
		store:     st,
		bus:       bus,
		judge:     j,
		subjects:  subjects,
		sessions:  make(map[string]*session),
		bySubject: make(map[string]string),
	}
}

// Start starts the background sweeper. Call Stop to shut down.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sweepLoop(e.ctx)
	}()
}

// Stop cancels background work and waits for it to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Store returns the session archive store.
func (e *Engine) Store() store.SessionStore { return e.store }

// Bus returns the event bus.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

// Create starts a new session for a subject and issues its first prompt
// atomically, so no caller ever observes a session with zero prompts.
// Fails with model.ErrInvalidMode for an unknown mode and model.ErrConflict
// if the subject already has an active session.
func (e *Engine) Create(ctx context.Context, subjectID string, mode model.Mode) (*model.Session, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidMode, mode)
	}

	// Reserve the subject before the (slow) subject lookup and judge
	// calls, so two concurrent creates cannot both pass the check.
	e.mu.Lock()
	if sid, ok := e.bySubject[subjectID]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: subject %q already has active session %s", model.ErrConflict, subjectID, sid)
	}
	e.bySubject[subjectID] = ""
	e.mu.Unlock()

	sess, err := e.buildSession(ctx, subjectID, mode)
	if err != nil {
		e.mu.Lock()
		if e.bySubject[subjectID] == "" {
			delete(e.bySubject, subjectID)
		}
		e.mu.Unlock()
		return nil, err
	}

	e.mu.Lock()
	e.sessions[sess.id] = sess
	e.bySubject[subjectID] = sess.id
	e.mu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	snap := sess.snapshot()
	if err := e.store.CreateSession(snap); err != nil {
		log.Printf("archiving session %s: %v", sess.id, err)
	}
	e.saveTurns(sess.id, snap.Turns)
	e.emitEvent(sess.id, "status", fmt.Sprintf("%s session started for %s", mode, subjectID))
	e.emitEvent(sess.id, "prompt", snap.Turns[0].Prompt)
	return snap, nil
}

func (e *Engine) buildSession(ctx context.Context, subjectID string, mode model.Mode) (*session, error) {
	subj, err := e.subjects.Lookup(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("looking up subject: %w", err)
	}
	jctx := judge.Context{
		SubjectID: subj.ID,
		Title:     subj.Title,
		Abstract:  subj.Abstract,
		TechStack: subj.TechStack,
	}

	now := time.Now().UTC()
	sess := &session{
		id:        uuid.New().String()[:8],
		subjectID: subjectID,
		mode:      mode,
		status:    model.StatusActive,
		subj:      jctx,
		ledger:    ledger.New(),
		createdAt: now,
		updatedAt: now,
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.JudgeTimeout)
	defer cancel()

	var first string
	switch mode {
	case model.ModeViva:
		bank, err := e.judge.QuestionBank(callCtx, jctx, e.config.VivaQuestions)
		if err != nil {
			return nil, err
		}
		sess.bank = bank
		sess.next = 1
		first = bank[0]
	case model.ModeBattle:
		first, err = e.judge.OpeningChallenge(callCtx, jctx)
		if err != nil {
			return nil, err
		}
		sess.combat = combat.NewState()
	}

	if _, err := sess.ledger.AppendPrompt(first); err != nil {
		return nil, err
	}
	return sess, nil
}

// SubmitResponse stores the participant's response on the current turn,
// invokes the judge synchronously, and applies the verdict. It returns the
// resolved turn and the post-resolution session view.
//
// Judge failures leave the turn pending with the response retained, so the
// call is safe to retry; no damage or score is committed on a failed path.
func (e *Engine) SubmitResponse(ctx context.Context, sessionID, text string) (model.Turn, *model.Session, error) {
	sess, err := e.get(sessionID)
	if err != nil {
		return model.Turn{}, nil, err
	}

	sess.mu.Lock()
	if sess.status != model.StatusActive {
		sess.mu.Unlock()
		return model.Turn{}, nil, fmt.Errorf("%w: session is %s", model.ErrState, sess.status)
	}
	if sess.judging {
		sess.mu.Unlock()
		return model.Turn{}, nil, fmt.Errorf("%w: turn already being judged", model.ErrState)
	}
	pending, err := sess.ledger.RecordResponse(text)
	if err != nil {
		sess.mu.Unlock()
		return model.Turn{}, nil, fmt.Errorf("%w: no pending turn", model.ErrState)
	}
	sess.judging = true
	sess.updatedAt = time.Now().UTC()
	fence := sess.fence
	mode, subj, prompt := sess.mode, sess.subj, pending.Prompt
	e.saveTurns(sess.id, []model.Turn{pending})
	sess.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, e.config.JudgeTimeout)
	result, judgeErr := e.judge.Evaluate(callCtx, subj, mode, prompt, text)
	cancel()

	sess.mu.Lock()
	sess.judging = false
	if sess.fence != fence || sess.status != model.StatusActive {
		// Abandoned while the judge call was in flight; discard the verdict.
		sess.mu.Unlock()
		return model.Turn{}, nil, fmt.Errorf("%w: session is %s", model.ErrState, sess.status)
	}
	if judgeErr != nil {
		sess.mu.Unlock()
		return model.Turn{}, nil, judgeErr
	}

	turn, err := sess.ledger.ResolveCurrent(result.Verdict, mode)
	if err != nil {
		sess.mu.Unlock()
		return model.Turn{}, nil, err
	}

	var terminal bool
	switch mode {
	case model.ModeBattle:
		terminal = e.applyBattleTurn(sess, turn, result)
	case model.ModeViva:
		e.saveTurns(sess.id, []model.Turn{turn})
		e.emitEvent(sess.id, "feedback", fmt.Sprintf("turn %d scored %d/10", turn.Index, turn.Verdict.Score))
	}

	sess.updatedAt = time.Now().UTC()
	snap := sess.snapshot()
	if err := e.store.UpdateSession(snap); err != nil {
		log.Printf("archiving session %s: %v", sess.id, err)
	}
	sess.mu.Unlock()

	if terminal {
		e.release(sess.subjectID, sess.id)
	}
	return turn, snap, nil
}

// applyBattleTurn applies damage, evaluates the outcome, and either ends the
// session or appends the next challenge. Caller holds sess.mu. Returns true
// if the session reached a terminal state.
func (e *Engine) applyBattleTurn(sess *session, turn model.Turn, result *judge.Result) bool {
	outcome := sess.combat.ApplyDamage(turn.Verdict.ParticipantDamage, turn.Verdict.JudgeDamage)
	e.saveTurns(sess.id, []model.Turn{turn})
	e.emitEvent(sess.id, "feedback", fmt.Sprintf("turn %d: participant HP %d, judge HP %d",
		turn.Index, sess.combat.ParticipantHP, sess.combat.JudgeHP))

	switch outcome {
	case combat.OutcomeVictory:
		sess.terminate(model.StatusVictory)
		e.emitEvent(sess.id, "outcome", string(model.StatusVictory))
		return true
	case combat.OutcomeDefeat:
		sess.terminate(model.StatusDefeat)
		e.emitEvent(sess.id, "outcome", string(model.StatusDefeat))
		return true
	}

	if sess.ledger.Len() >= e.config.MaxBattleTurns {
		// The battle has dragged past the turn cap without a knockout;
		// the Boss outlasts the participant.
		sess.terminate(model.StatusDefeat)
		e.emitEvent(sess.id, "outcome", fmt.Sprintf("%s (turn cap %d reached)", model.StatusDefeat, e.config.MaxBattleTurns))
		return true
	}

	next := result.NextPrompt
	if next == "" {
		next = fallbackChallenge
	}
	appended, err := sess.ledger.AppendPrompt(next)
	if err != nil {
		// Unreachable: the turn just resolved, so nothing is pending.
		log.Printf("session %s: appending next challenge: %v", sess.id, err)
		return false
	}
	e.saveTurns(sess.id, []model.Turn{appended})
	e.emitEvent(sess.id, "prompt", appended.Prompt)
	return false
}

// Advance appends the next question from the viva bank. It fails with
// model.ErrState if the session is not an active viva, the current turn is
// unresolved, or the bank is exhausted.
func (e *Engine) Advance(sessionID string) (model.Turn, error) {
	sess, err := e.get(sessionID)
	if err != nil {
		return model.Turn{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.mode != model.ModeViva {
		return model.Turn{}, fmt.Errorf("%w: advance applies to viva sessions", model.ErrState)
	}
	if sess.status != model.StatusActive {
		return model.Turn{}, fmt.Errorf("%w: session is %s", model.ErrState, sess.status)
	}
	if sess.ledger.HasPending() {
		return model.Turn{}, fmt.Errorf("%w: current turn is unresolved", model.ErrState)
	}
	if sess.next >= len(sess.bank) {
		return model.Turn{}, fmt.Errorf("%w: question bank exhausted", model.ErrState)
	}

	turn, err := sess.ledger.AppendPrompt(sess.bank[sess.next])
	if err != nil {
		return model.Turn{}, err
	}
	sess.next++
	sess.updatedAt = time.Now().UTC()

	e.saveTurns(sess.id, []model.Turn{turn})
	e.emitEvent(sess.id, "prompt", turn.Prompt)
	if err := e.store.UpdateSession(sess.snapshot()); err != nil {
		log.Printf("archiving session %s: %v", sess.id, err)
	}
	return turn, nil
}

// Finish completes an active viva whose current turn is resolved.
func (e *Engine) Finish(sessionID string) (*model.Session, error) {
	sess, err := e.get(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.mode != model.ModeViva {
		sess.mu.Unlock()
		return nil, fmt.Errorf("%w: finish applies to viva sessions", model.ErrState)
	}
	if sess.status != model.StatusActive {
		sess.mu.Unlock()
		return nil, fmt.Errorf("%w: session is %s", model.ErrState, sess.status)
	}
	if sess.ledger.HasPending() {
		sess.mu.Unlock()
		return nil, fmt.Errorf("%w: current turn is unresolved", model.ErrState)
	}

	sess.terminate(model.StatusCompleted)
	snap := sess.snapshot()
	if err := e.store.UpdateSession(snap); err != nil {
		log.Printf("archiving session %s: %v", sess.id, err)
	}
	e.emitEvent(sess.id, "outcome", string(model.StatusCompleted))
	sess.mu.Unlock()

	e.release(sess.subjectID, sess.id)
	return snap, nil
}

// Abandon terminates an active session immediately. A pending turn is
// discarded, not resolved, and an in-flight judge result is fenced off.
func (e *Engine) Abandon(sessionID string) (*model.Session, error) {
	sess, err := e.get(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.status != model.StatusActive {
		sess.mu.Unlock()
		return nil, fmt.Errorf("%w: session is %s", model.ErrState, sess.status)
	}

	sess.fence++
	sess.terminate(model.StatusAbandoned)
	snap := sess.snapshot()
	if err := e.store.UpdateSession(snap); err != nil {
		log.Printf("archiving session %s: %v", sess.id, err)
	}
	e.emitEvent(sess.id, "outcome", string(model.StatusAbandoned))
	sess.mu.Unlock()

	e.release(sess.subjectID, sess.id)
	return snap, nil
}

// Snapshot returns a read-only view of a session. Live sessions are served
// from the registry; evicted ones fall back to the archive store.
func (e *Engine) Snapshot(sessionID string) (*model.Session, error) {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return e.store.GetSession(sessionID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshot(), nil
}

// --- Sweeper ---

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(time.Now().UTC())
		}
	}
}

// sweep abandons active sessions idle past the threshold and evicts idle
// terminal sessions from the live registry. Archived rows are untouched.
func (e *Engine) sweep(now time.Time) {
	e.mu.Lock()
	live := make([]*session, 0, len(e.sessions))
	for _, sess := range e.sessions {
		live = append(live, sess)
	}
	e.mu.Unlock()

	var evict []*session
	for _, sess := range live {
		sess.mu.Lock()
		idle := now.Sub(sess.updatedAt) > e.config.IdleTimeout
		switch {
		case sess.status == model.StatusActive && idle:
			log.Printf("Sweeping idle session %s (idle for %v)", sess.id, now.Sub(sess.updatedAt))
			sess.fence++
			sess.terminate(model.StatusAbandoned)
			if err := e.store.UpdateSession(sess.snapshot()); err != nil {
				log.Printf("archiving session %s: %v", sess.id, err)
			}
			e.emitEvent(sess.id, "outcome", string(model.StatusAbandoned)+" (idle timeout)")
			evict = append(evict, sess)
		case sess.status.Terminal() && idle:
			evict = append(evict, sess)
		}
		sess.mu.Unlock()
	}

	e.mu.Lock()
	for _, sess := range evict {
		delete(e.sessions, sess.id)
		if e.bySubject[sess.subjectID] == sess.id {
			delete(e.bySubject, sess.subjectID)
		}
	}
	e.mu.Unlock()
}

// --- Helpers ---

func (e *Engine) get(sessionID string) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %q", model.ErrNotFound, sessionID)
	}
	return sess, nil
}

// release frees the subject for a new session once this one is terminal.
// The terminal session stays in the registry for reads until swept.
func (e *Engine) release(subjectID, sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bySubject[subjectID] == sessionID {
		delete(e.bySubject, subjectID)
	}
}

func (e *Engine) saveTurns(sessionID string, turns []model.Turn) {
	for i := range turns {
		if err := e.store.SaveTurn(sessionID, &turns[i]); err != nil {
			log.Printf("archiving turn %d of session %s: %v", turns[i].Index, sessionID, err)
		}
	}
}

func (e *Engine) emitEvent(sessionID, eventType, data string) {
	event := &model.Event{
		SessionID: sessionID,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.AddEvent(event); err != nil {
		log.Printf("Error storing event: %v", err)
	}
	e.bus.Publish(sessionID, event)
}
