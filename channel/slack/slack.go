// Package slack provides a Slack bot channel for Crucible using Socket Mode.
//
// Socket Mode connects to Slack via WebSocket -- no public URL needed.
// The bot listens for @mentions: a mention with "viva" or "battle" starts a
// session for a subject, and replies in the same thread submit responses.
// Prompts, feedback, and the final outcome are posted back to the thread,
// with a full transcript uploaded when the session ends.
package slack

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/crucible-edu/crucible/eventbus"
	"github.com/crucible-edu/crucible/model"
	"github.com/crucible-edu/crucible/store"
)

// SessionRunner is the interface the bot needs from the engine. Keeping it
// narrow lets tests drive the bot without a full engine.
type SessionRunner interface {
	Create(ctx context.Context, subjectID string, mode model.Mode) (*model.Session, error)
	SubmitResponse(ctx context.Context, sessionID, text string) (model.Turn, *model.Session, error)
	Advance(sessionID string) (model.Turn, error)
	Finish(sessionID string) (*model.Session, error)
	Abandon(sessionID string) (*model.Session, error)
	Snapshot(sessionID string) (*model.Session, error)
}

// Bot is the Slack Socket Mode bot for Crucible.
type Bot struct {
	api          *slack.Client
	socketClient *socketmode.Client
	store        store.SessionStore
	bus          eventbus.Bus
	sessions     SessionRunner

	mu      sync.Mutex
	threads map[string]string // "channel:threadTS" -> session ID
}

// NewBot creates a new Slack Socket Mode bot.
func NewBot(botToken, appToken string, st store.SessionStore, bus eventbus.Bus, runner SessionRunner) *Bot {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(log.New(log.Writer(), "slack-socketmode: ", log.LstdFlags)),
	)

	return &Bot{
		api:          api,
		socketClient: socketClient,
		store:        st,
		bus:          bus,
		sessions:     runner,
		threads:      make(map[string]string),
	}
}

// Name identifies the channel in logs.
func (b *Bot) Name() string { return "slack" }

// Run connects to Slack via Socket Mode and processes events.
// It blocks until the context is canceled or a fatal error occurs.
func (b *Bot) Run(ctx context.Context) error {
	go b.eventLoop(ctx)
	log.Println("Slack bot connecting via Socket Mode...")
	return b.socketClient.RunContext(ctx)
}

// eventLoop reads events from the Socket Mode client and dispatches them.
func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socketClient.Events:
			if !ok {
				return
			}
			b.handleEvent(ctx, evt)
		}
	}
}

// handleEvent dispatches a single Socket Mode event.
func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Println("Slack: connecting...")
	case socketmode.EventTypeConnected:
		log.Println("Slack: connected")
	case socketmode.EventTypeConnectionError:
		log.Println("Slack: connection error, will retry...")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Acknowledge immediately (Slack requires ack within 3 seconds).
		b.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			b.handleCallbackEvent(ctx, eventsAPIEvent.InnerEvent)
		}
	case socketmode.EventTypeInteractive:
		// Acknowledge interactive events even if we don't handle them yet.
		b.socketClient.Ack(*evt.Request)
	}
}

// handleCallbackEvent routes inner Events API events.
func (b *Bot) handleCallbackEvent(ctx context.Context, innerEvent slackevents.EventsAPIInnerEvent) {
	switch ev := innerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		go b.handleMention(ctx, ev)
	}
}

// handleMention processes an @mention of the bot.
func (b *Bot) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	// Strip the bot mention (<@U12345>) from the text.
	text := ev.Text
	if idx := strings.Index(text, ">"); idx >= 0 {
		text = strings.TrimSpace(text[idx+1:])
	}

	// Reply in the thread of the original message.
	threadTS := ev.TimeStamp
	if ev.ThreadTimeStamp != "" {
		threadTS = ev.ThreadTimeStamp
	}
	key := ev.Channel + ":" + threadTS

	b.mu.Lock()
	sessionID, active := b.threads[key]
	b.mu.Unlock()

	if !active {
		b.startSession(ctx, ev.Channel, threadTS, key, text)
		return
	}
	b.handleSessionCommand(ctx, ev.Channel, threadTS, key, sessionID, text)
}

// startSession parses "viva owner/repo" or "battle owner/repo" and creates
// a new session bound to the thread.
func (b *Bot) startSession(ctx context.Context, channelID, threadTS, key, text string) {
	fields := strings.Fields(text)
	if len(fields) < 2 || !model.Mode(fields[0]).Valid() {
		b.postThread(channelID, threadTS,
			"To start an evaluation, mention me with a mode and a subject. Example:\n`@crucible viva owner/repo` or `@crucible battle owner/repo`")
		return
	}
	mode := model.Mode(fields[0])
	subjectID := fields[1]

	label := "Viva Simulation"
	if mode == model.ModeBattle {
		label = "Boss Battle"
	}
	b.postThread(channelID, threadTS,
		fmt.Sprintf(":crossed_swords: *Starting %s for `%s`...*", label, subjectID))

	sess, err := b.sessions.Create(ctx, subjectID, mode)
	if err != nil {
		b.postThread(channelID, threadTS,
			fmt.Sprintf(":x: Failed to start session: %s", err))
		return
	}

	b.mu.Lock()
	b.threads[key] = sess.ID
	b.mu.Unlock()

	b.postThread(channelID, threadTS,
		fmt.Sprintf("Session `%s` started. Reply in this thread (mentioning me) to answer.\n\n*%s*", sess.ID, sess.Turns[0].Prompt))

	go b.monitorSession(sess.ID, channelID, threadTS, key)
}

// handleSessionCommand interprets a mention inside an active session thread.
// Bare words "next", "finish", "abandon", and "status" are commands;
// anything else is submitted as the response to the current prompt.
func (b *Bot) handleSessionCommand(ctx context.Context, channelID, threadTS, key, sessionID, text string) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "next":
		if _, err := b.sessions.Advance(sessionID); err != nil {
			b.postThread(channelID, threadTS, fmt.Sprintf(":x: %s", err))
		}
		return

	case "finish":
		if _, err := b.sessions.Finish(sessionID); err != nil {
			b.postThread(channelID, threadTS, fmt.Sprintf(":x: %s", err))
		}
		return

	case "abandon":
		if _, err := b.sessions.Abandon(sessionID); err != nil {
			b.postThread(channelID, threadTS, fmt.Sprintf(":x: %s", err))
		}
		return

	case "status":
		sess, err := b.sessions.Snapshot(sessionID)
		if err != nil {
			b.postThread(channelID, threadTS, fmt.Sprintf(":x: %s", err))
			return
		}
		b.postThread(channelID, threadTS, formatStatus(sess))
		return

	case "":
		b.postThread(channelID, threadTS,
			"Reply with your answer, or use `next`, `finish`, `abandon`, or `status`.")
		return
	}

	if _, _, err := b.sessions.SubmitResponse(ctx, sessionID, text); err != nil {
		b.postThread(channelID, threadTS, fmt.Sprintf(":x: %s", err))
	}
	// Feedback and the next prompt arrive via the event monitor.
}

// monitorSession subscribes to session events and mirrors them into the
// Slack thread. When the session reaches a terminal state, it posts the
// outcome and uploads a transcript.
func (b *Bot) monitorSession(sessionID, channelID, threadTS, key string) {
	ch := b.bus.Subscribe(sessionID)
	defer b.bus.Unsubscribe(sessionID, ch)

	for event := range ch {
		switch event.Type {
		case "prompt":
			b.postThread(channelID, threadTS, fmt.Sprintf("*%s*", event.Data))

		case "feedback":
			b.postThread(channelID, threadTS, fmt.Sprintf(":memo: %s", event.Data))

		case "outcome":
			b.mu.Lock()
			delete(b.threads, key)
			b.mu.Unlock()

			b.uploadTranscript(channelID, threadTS, sessionID)

			sess, err := b.sessions.Snapshot(sessionID)
			if err != nil {
				log.Printf("Slack: failed to refresh session %s: %v", sessionID, err)
				b.postThread(channelID, threadTS,
					fmt.Sprintf(":checkered_flag: Session over: %s", event.Data))
				return
			}
			b.postOutcomeMessage(channelID, threadTS, sess)
			return
		}
	}
}

// uploadTranscript fetches all events for a session, formats them as a log,
// and uploads the file to the Slack thread.
func (b *Bot) uploadTranscript(channelID, threadTS, sessionID string) {
	events, err := b.store.GetEvents(sessionID, 0)
	if err != nil {
		log.Printf("Slack: failed to get events for session %s: %v", sessionID, err)
		return
	}

	if len(events) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Crucible Session Transcript: %s\n", sessionID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n", time.Now().UTC().Format(time.RFC3339)))
	sb.WriteString(strings.Repeat("=", 60))
	sb.WriteString("\n\n")

	for _, e := range events {
		ts := e.CreatedAt.Format("15:04:05")
		tag := strings.ToUpper(e.Type)
		sb.WriteString(fmt.Sprintf("[%s] [%s] %s\n", ts, tag, e.Data))
	}

	content := sb.String()
	filename := fmt.Sprintf("crucible-session-%s.log", sessionID)

	_, err = b.api.UploadFileV2(slack.UploadFileV2Parameters{
		Content:         content,
		Filename:        filename,
		FileSize:        len(content),
		Title:           fmt.Sprintf("Transcript - Session %s", sessionID),
		Channel:         channelID,
		ThreadTimestamp: threadTS,
	})
	if err != nil {
		log.Printf("Slack: failed to upload transcript for session %s: %v", sessionID, err)
		truncated := content
		if len(truncated) > 3000 {
			truncated = "...(truncated)...\n" + truncated[len(truncated)-3000:]
		}
		b.postThread(channelID, threadTS,
			fmt.Sprintf("*Transcript (truncated):*\n```\n%s\n```", truncated))
	}
}

// postOutcomeMessage posts a rich Block Kit summary of the final result.
func (b *Bot) postOutcomeMessage(channelID, threadTS string, sess *model.Session) {
	headerText := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf("%s *%s*", outcomeEmoji(sess.Status), outcomeHeadline(sess)),
		false, false)
	headerSection := slack.NewSectionBlock(headerText, nil, nil)

	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("Session `%s` | Subject `%s` | %d turns", sess.ID, sess.SubjectID, len(sess.Turns)),
			false, false),
	}
	contextBlock := slack.NewContextBlock("", contextElements...)

	_, _, err := b.api.PostMessage(channelID,
		slack.MsgOptionBlocks(headerSection, slack.NewDividerBlock(), contextBlock),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("Slack: failed to post outcome message: %v", err)
		b.postThread(channelID, threadTS,
			fmt.Sprintf("%s %s", outcomeEmoji(sess.Status), outcomeHeadline(sess)))
	}
}

// postThread sends a plain text message as a thread reply.
func (b *Bot) postThread(channelID, threadTS, text string) {
	_, _, err := b.api.PostMessage(channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("Slack: failed to post message to %s: %v", channelID, err)
	}
}

func formatStatus(sess *model.Session) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session `%s` (%s) is *%s*.\n", sess.ID, sess.Mode, sess.Status)
	if sess.Mode == model.ModeBattle {
		fmt.Fprintf(&sb, "HP: you %d / Boss %d.\n", sess.ParticipantHP, sess.JudgeHP)
	}
	resolved := 0
	for _, t := range sess.Turns {
		if t.Resolved() {
			resolved++
		}
	}
	fmt.Fprintf(&sb, "%d of %d turns resolved.", resolved, len(sess.Turns))
	if cur := sess.CurrentTurn(); cur != nil {
		fmt.Fprintf(&sb, "\n\n*%s*", cur.Prompt)
	}
	return sb.String()
}

func outcomeEmoji(status model.Status) string {
	switch status {
	case model.StatusVictory:
		return ":trophy:"
	case model.StatusDefeat:
		return ":skull:"
	case model.StatusCompleted:
		return ":white_check_mark:"
	default:
		return ":checkered_flag:"
	}
}

func outcomeHeadline(sess *model.Session) string {
	switch sess.Status {
	case model.StatusVictory:
		return fmt.Sprintf("Victory! The Boss is down (your HP: %d).", sess.ParticipantHP)
	case model.StatusDefeat:
		return fmt.Sprintf("Defeat. The Boss outlasted you (Boss HP: %d).", sess.JudgeHP)
	case model.StatusCompleted:
		return scoreSummary(sess)
	case model.StatusAbandoned:
		return "Session abandoned."
	default:
		return fmt.Sprintf("Session ended: %s.", sess.Status)
	}
}

func scoreSummary(sess *model.Session) string {
	total, count := 0, 0
	for _, t := range sess.Turns {
		if t.Resolved() {
			total += t.Verdict.Score
			count++
		}
	}
	if count == 0 {
		return "Viva complete."
	}
	return fmt.Sprintf("Viva complete: %d points over %d questions (max %d each).",
		total, count, model.MaxScore)
}
