// Package judge provides the external scoring collaborator for evaluation
// sessions. The engine treats it as a black box: given subject context, a
// prompt, and a response, it returns a normalized verdict and, for battles,
// the next challenge. It holds no session state.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/crucible-edu/crucible/model"
)

// Context describes the subject under evaluation. It is rebuilt per session
// from the subject directory and never cached beyond a session's lifetime.
type Context struct {
	SubjectID string
	Title     string
	Abstract  string
	TechStack []string
}

// Result is one evaluation outcome. NextPrompt is only populated for battle
// evaluations and may be empty when the judge offers no further escalation.
type Result struct {
	Verdict    model.Verdict
	NextPrompt string
}

// Client is the Judge/Question collaborator interface.
type Client interface {
	// QuestionBank generates the fixed viva question set at session start.
	QuestionBank(ctx context.Context, subj Context, n int) ([]string, error)

	// OpeningChallenge generates the first battle prompt.
	OpeningChallenge(ctx context.Context, subj Context) (string, error)

	// Evaluate scores a response to a prompt. Failures wrap
	// model.ErrJudgeUnavailable so the caller can retry safely.
	Evaluate(ctx context.Context, subj Context, mode model.Mode, prompt, response string) (*Result, error)
}

// Request is one completion call. Temperature and MaxTokens are set per
// call: generation (question banks, challenges) runs warm so repeat sessions
// on a subject do not see identical questions, while grading runs cold so a
// verdict for the same answer stays stable across retries.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Per-call sampling settings. Grading near zero, generation warm.
const (
	gradingTemperature    = 0.1
	generationTemperature = 0.8

	verdictMaxTokens    = 1024
	generationMaxTokens = 2048
)

// Completer is the minimal LLM surface the judge needs.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// LLM implements Client on top of a chat-completion backend.
type LLM struct {
	llm Completer
}

// NewLLM creates an LLM-backed judge.
func NewLLM(c Completer) *LLM {
	return &LLM{llm: c}
}

func (j *LLM) QuestionBank(ctx context.Context, subj Context, n int) ([]string, error) {
	user := fmt.Sprintf("%s\n\nGenerate exactly %d viva questions.", subjectBlock(subj), n)
	resp, err := j.llm.Complete(ctx, Request{
		System:      QuestionBankPrompt,
		User:        user,
		Temperature: generationTemperature,
		MaxTokens:   generationMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: question bank: %v", model.ErrJudgeUnavailable, err)
	}

	var questions []string
	if err := json.Unmarshal([]byte(extractJSON(resp, '[', ']')), &questions); err != nil {
		return nil, fmt.Errorf("%w: malformed question bank: %v", model.ErrJudgeUnavailable, err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: empty question bank", model.ErrJudgeUnavailable)
	}
	if len(questions) > n {
		questions = questions[:n]
	}
	return questions, nil
}

func (j *LLM) OpeningChallenge(ctx context.Context, subj Context) (string, error) {
	resp, err := j.llm.Complete(ctx, Request{
		System:      OpeningChallengePrompt,
		User:        subjectBlock(subj),
		Temperature: generationTemperature,
		MaxTokens:   generationMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: opening challenge: %v", model.ErrJudgeUnavailable, err)
	}
	challenge := strings.TrimSpace(resp)
	if challenge == "" {
		return "", fmt.Errorf("%w: empty opening challenge", model.ErrJudgeUnavailable)
	}
	return challenge, nil
}

func (j *LLM) Evaluate(ctx context.Context, subj Context, mode model.Mode, prompt, response string) (*Result, error) {
	system := VivaJudgePrompt
	if mode == model.ModeBattle {
		system = BattleJudgePrompt
	}
	user := fmt.Sprintf("%s\n\n## Question\n%s\n\n## Response\n%s", subjectBlock(subj), prompt, response)

	raw, err := j.llm.Complete(ctx, Request{
		System:      system,
		User:        user,
		Temperature: gradingTemperature,
		MaxTokens:   verdictMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: evaluate: %v", model.ErrJudgeUnavailable, err)
	}

	switch mode {
	case model.ModeViva:
		return parseVivaVerdict(raw)
	case model.ModeBattle:
		return parseBattleVerdict(raw)
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidMode, mode)
	}
}

// --- Response parsing ---

type vivaVerdictJSON struct {
	Score    json.Number `json:"score"`
	Feedback string      `json:"feedback"`
}

type battleVerdictJSON struct {
	ParticipantDamage json.Number `json:"participant_damage"`
	JudgeDamage       json.Number `json:"judge_damage"`
	Feedback          string      `json:"feedback"`
	NextQuestion      string      `json:"next_question"`
}

func parseVivaVerdict(raw string) (*Result, error) {
	var v vivaVerdictJSON
	if err := json.Unmarshal([]byte(extractJSON(raw, '{', '}')), &v); err != nil {
		return nil, fmt.Errorf("%w: malformed viva verdict: %v", model.ErrJudgeUnavailable, err)
	}
	score, err := roundNumber(v.Score)
	if err != nil {
		return nil, fmt.Errorf("%w: viva verdict score: %v", model.ErrJudgeUnavailable, err)
	}
	return &Result{Verdict: model.Verdict{Score: score, Feedback: v.Feedback}}, nil
}

func parseBattleVerdict(raw string) (*Result, error) {
	var v battleVerdictJSON
	if err := json.Unmarshal([]byte(extractJSON(raw, '{', '}')), &v); err != nil {
		return nil, fmt.Errorf("%w: malformed battle verdict: %v", model.ErrJudgeUnavailable, err)
	}
	pd, err := roundNumber(v.ParticipantDamage)
	if err != nil {
		return nil, fmt.Errorf("%w: participant damage: %v", model.ErrJudgeUnavailable, err)
	}
	jd, err := roundNumber(v.JudgeDamage)
	if err != nil {
		return nil, fmt.Errorf("%w: judge damage: %v", model.ErrJudgeUnavailable, err)
	}
	return &Result{
		Verdict: model.Verdict{
			ParticipantDamage: pd,
			JudgeDamage:       jd,
			Feedback:          v.Feedback,
		},
		NextPrompt: strings.TrimSpace(v.NextQuestion),
	}, nil
}

// roundNumber converts a JSON number to an integer, rounding fractional
// values half-up. Silent truncation would bias scores downward.
func roundNumber(n json.Number) (int, error) {
	if n == "" {
		return 0, fmt.Errorf("missing numeric field")
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int(math.Floor(f + 0.5)), nil
}

// extractJSON pulls the outermost open..close span out of an LLM response,
// tolerating markdown fences and prose around the payload.
func extractJSON(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func subjectBlock(subj Context) string {
	var b strings.Builder
	b.WriteString("## Project\n")
	fmt.Fprintf(&b, "Title: %s\n", subj.Title)
	if subj.Abstract != "" {
		fmt.Fprintf(&b, "Abstract: %s\n", subj.Abstract)
	}
	if len(subj.TechStack) > 0 {
		fmt.Fprintf(&b, "Tech stack: %s\n", strings.Join(subj.TechStack, ", "))
	}
	return b.String()
}
