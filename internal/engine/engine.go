// ABOUTME: Turn orchestration engine: decision, bounded answer retry loop, commit
// ABOUTME: Returns a handle of live streams immediately and finishes the turn in the background

package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sibyl-sh/sibyl/internal/agents"
	"github.com/sibyl-sh/sibyl/internal/chat"
	"github.com/sibyl-sh/sibyl/internal/stream"
)

const (
	// HistoryLimit bounds the prompt history in the default configuration.
	HistoryLimit = 10
	// HistoryLimitSpecific is the tighter bound when the writer path is enabled,
	// since tool payloads inflate each message.
	HistoryLimitSpecific = 5
	// DefaultMaxAttempts caps the answer retry loop.
	DefaultMaxAttempts = 3

	// skipInput is recorded as the user input when a pending inquiry is dismissed.
	skipInput = `{"action": "skip"}`
)

// ErrAttemptsExhausted indicates the retry loop hit its cap without an answer.
var ErrAttemptsExhausted = errors.New("answer generation attempts exhausted")

// Config holds the engine's behavior switches.
type Config struct {
	// SpecificAPI routes answer composition through the writer agent and
	// restricts the researcher to tool invocation.
	SpecificAPI bool
	// MaxAttempts bounds the answer retry loop. Zero means DefaultMaxAttempts.
	MaxAttempts int
}

// Agents bundles the five pipeline collaborators.
type Agents struct {
	TaskManager agents.TaskManager
	Inquirer    agents.Inquirer
	Researcher  agents.Researcher
	Writer      agents.Writer
	Suggester   agents.Suggester
}

// TurnHandle is returned to the caller before the turn has finished
// processing. The handle itself is never mutated after construction; only
// the streams it references are. Every stream reaches a terminal state
// exactly once per turn.
type TurnHandle struct {
	ID           string
	IsGenerating *stream.Streamable[bool]
	IsCollapsed  *stream.Streamable[bool]
	Display      *chat.Projection
}

// Engine composes the agents into one turn's execution.
type Engine struct {
	cfg    Config
	agents Agents
	logger *slog.Logger
}

// New creates an engine. Pass nil logger for the default.
func New(cfg Config, ag Agents, logger *slog.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		agents: ag,
		logger: logger.With("component", "engine"),
	}
}

// HistoryLimit returns the configured prompt history bound.
func (e *Engine) HistoryLimit() int {
	if e.cfg.SpecificAPI {
		return HistoryLimitSpecific
	}
	return HistoryLimit
}

// SubmitTurn starts one turn and returns its handle synchronously; all agent
// work continues in a detached background task. The second return value is
// the related-queries stream, which is exempt from the commit ordering and
// may still be producing after the turn's record is persisted.
//
// skip bypasses the decision step entirely (the user dismissed a pending
// inquiry); it is a deliberate bypass, not an error path.
func (e *Engine) SubmitTurn(ctx context.Context, st *chat.State, content string, skip bool) (*TurnHandle, *stream.Streamable[[]string]) {
	handle := &TurnHandle{
		ID:           uuid.New().String(),
		IsGenerating: stream.New[bool](),
		IsCollapsed:  stream.New[bool](),
		Display:      chat.NewProjection(),
	}
	_ = handle.IsGenerating.Append(true)
	related := stream.New[[]string]()

	// The turn outlives the submitting request; keep its values, drop its
	// cancellation.
	bg := context.WithoutCancel(ctx)
	go e.processTurn(bg, st, handle, related, content, skip)

	return handle, related
}

// processTurn drives the state machine:
// START -> DECIDING -> {INQUIRING | ANSWERING} -> [REWRITING] -> SUGGESTING -> COMMITTED.
func (e *Engine) processTurn(ctx context.Context, st *chat.State, handle *TurnHandle, related *stream.Streamable[[]string], content string, skip bool) {
	logger := e.logger.With("turn_id", handle.ID)

	// Bound the staged history before this turn's user message joins it.
	rec := st.Get()
	rec.Messages = chat.Trim(rec.Messages, e.HistoryLimit())

	userInput := content
	if skip {
		userInput = skipInput
	}
	if content != "" {
		rec.Messages = append(rec.Messages, chat.Message{
			ID:      uuid.New().String(),
			Role:    chat.RoleUser,
			Content: userInput,
		})
		st.Update(rec)
	}

	decision := agents.Decision{Next: agents.NextProceed}
	if !skip {
		d, err := e.agents.TaskManager.Decide(ctx, rec.Messages)
		if err != nil {
			// Skip-on-error: an unavailable decision agent must not stall
			// the turn.
			logger.Warn("task manager unavailable, proceeding", "error", err)
		} else {
			decision = d
		}
	}

	if decision.Next == agents.NextInquire {
		e.runInquiry(ctx, st, handle, related, rec)
		return
	}

	e.runAnswer(ctx, st, handle, related, rec)
}

// runInquiry asks a clarifying question and ends the turn without answering.
func (e *Engine) runInquiry(ctx context.Context, st *chat.State, handle *TurnHandle, related *stream.Streamable[[]string], rec chat.Record) {
	logger := e.logger.With("turn_id", handle.ID, "chat_id", rec.ID)

	inquiry, err := e.agents.Inquirer.Inquire(ctx, handle.Display, rec.Messages)
	if err != nil {
		logger.Warn("inquirer failed", "error", err)
	}

	_ = handle.Display.Done()
	_ = handle.IsGenerating.Done()
	_ = handle.IsCollapsed.Done(false)
	_ = related.Done()

	rec.Messages = append(rec.Messages, chat.Message{
		ID:      uuid.New().String(),
		Role:    chat.RoleAssistant,
		Content: "inquiry: " + inquiry.Question,
	})
	if err := st.Done(ctx, rec); err != nil {
		logger.Error("failed to persist inquiry turn", "error", err)
	}
	logger.Debug("turn committed via inquiry")
}

// runAnswer drives the bounded retry loop, the optional writer rewrite, the
// suggestion stage, and the final commit.
func (e *Engine) runAnswer(ctx context.Context, st *chat.State, handle *TurnHandle, related *stream.Streamable[[]string], rec chat.Record) {
	logger := e.logger.With("turn_id", handle.ID, "chat_id", rec.ID)

	_ = handle.IsCollapsed.Done(true)
	_ = handle.Display.Replace(chat.NewNode(uuid.New().String(), chat.NodeSpinner, ""))

	text := stream.New[string]()

	var answer string
	var toolOutputs []agents.ToolOutput
	hadError := false
	exhausted := false

	// Each iteration supersedes the previous one's partial text; only the
	// final iteration's output survives into the commit.
	for attempt := 1; ; attempt++ {
		res, err := e.agents.Researcher.Research(ctx, handle.Display, text, rec.Messages, e.cfg.SpecificAPI)
		if err != nil {
			logger.Warn("researcher failed", "attempt", attempt, "error", err)
			hadError = true
		}
		if res.HadError {
			hadError = true
		}
		answer = res.Answer
		if len(res.ToolOutputs) > 0 {
			toolOutputs = res.ToolOutputs
			for _, out := range res.ToolOutputs {
				rec.Messages = append(rec.Messages, chat.Message{
					ID:      uuid.New().String(),
					Role:    chat.RoleTool,
					Name:    out.Name,
					Content: string(out.Result),
				})
			}
			st.Update(rec)
		}

		if answer != "" || (e.cfg.SpecificAPI && len(toolOutputs) > 0) {
			break
		}
		if attempt >= e.cfg.MaxAttempts {
			exhausted = true
			hadError = true
			logger.Error("retry loop exhausted", "attempts", attempt)
			_ = handle.Display.Append(chat.NewNode(
				uuid.New().String(), chat.NodeError, ErrAttemptsExhausted.Error()))
			break
		}
	}

	// REWRITING: only when the loop exited via tool outputs rather than a
	// direct answer.
	if e.cfg.SpecificAPI && answer == "" && len(toolOutputs) > 0 && !exhausted {
		composed, err := e.agents.Writer.Compose(ctx, handle.Display, text, reshapeToolMessages(rec.Messages))
		if err != nil {
			logger.Warn("writer failed", "error", err)
			hadError = true
			_ = text.Done()
		} else {
			answer = composed
			_ = text.Done(answer)
		}
	} else {
		_ = text.Done()
	}

	// SUGGESTING: skipped after any error; not awaited before commit.
	if hadError {
		_ = related.Done()
	} else {
		history := rec.Clone().Messages
		go func() {
			res, err := e.agents.Suggester.Suggest(ctx, handle.Display, history)
			if err != nil {
				logger.Warn("suggester failed", "error", err)
				_ = related.Fail(err)
				return
			}
			_ = related.Done(res.Queries)
		}()
	}

	// COMMITTED: primary streams terminate before the durable commit.
	_ = handle.IsGenerating.Done(false)
	_ = handle.Display.Done()

	rec.Messages = append(rec.Messages, chat.Message{
		ID:      uuid.New().String(),
		Role:    chat.RoleAssistant,
		Content: answer,
	})
	if err := st.Done(ctx, rec); err != nil {
		logger.Error("failed to persist turn", "error", err)
	}
	logger.Debug("turn committed", "had_error", hadError, "exhausted", exhausted)
}

// reshapeToolMessages converts tool-role messages into assistant-role
// messages whose content is the JSON tool payload, for the writer, which
// does not understand tool-role messages. The staged history itself is left
// untouched.
func reshapeToolMessages(msgs []chat.Message) []chat.Message {
	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		if m.Role != chat.RoleTool {
			out[i] = m
			continue
		}
		out[i] = chat.Message{
			ID:      uuid.New().String(),
			Role:    chat.RoleAssistant,
			Content: m.Content, // tool payloads are recorded as JSON already
		}
	}
	return out
}
