// ABOUTME: Agent contracts consumed by the turn engine
// ABOUTME: Defines the decision sum type and the five pipeline agent interfaces

package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sibyl-sh/sibyl/internal/chat"
	"github.com/sibyl-sh/sibyl/internal/stream"
)

// ErrInvalidDecision indicates the task manager returned something other
// than proceed or inquire. Treated as a contract violation at the boundary
// rather than passed through.
var ErrInvalidDecision = errors.New("invalid decision outcome")

// NextAction is the two-variant outcome of the task manager.
type NextAction string

const (
	NextProceed NextAction = "proceed"
	NextInquire NextAction = "inquire"
)

// Decision wraps the routing outcome for one turn.
type Decision struct {
	Next NextAction
}

// ParseDecision validates a raw outcome string into a Decision.
func ParseDecision(raw string) (Decision, error) {
	switch NextAction(strings.TrimSpace(strings.ToLower(raw))) {
	case NextProceed:
		return Decision{Next: NextProceed}, nil
	case NextInquire:
		return Decision{Next: NextInquire}, nil
	default:
		return Decision{}, fmt.Errorf("%w: %q", ErrInvalidDecision, raw)
	}
}

// Inquiry is a clarifying question produced instead of an answer.
type Inquiry struct {
	Question string
}

// ToolOutput is one tool invocation result surfaced by the researcher.
type ToolOutput struct {
	ID     string
	Name   string
	Result json.RawMessage
}

// ResearchResult is the outcome of one researcher iteration. Errors are
// carried as data, not returned: a failed iteration still completes the turn.
type ResearchResult struct {
	Answer      string
	HadError    bool
	ToolOutputs []ToolOutput
}

// Related holds follow-up queries suggested after an answer.
type Related struct {
	Queries []string
}

// TaskManager classifies the history into proceed-or-inquire.
type TaskManager interface {
	Decide(ctx context.Context, history []chat.Message) (Decision, error)
}

// Inquirer produces a clarifying question, written incrementally into the
// projection.
type Inquirer interface {
	Inquire(ctx context.Context, proj *chat.Projection, history []chat.Message) (Inquiry, error)
}

// Researcher produces a draft answer, optionally invoking tools. Partial text
// goes to the text stream and the projection as it arrives. When specificAPI
// is set the call is expected to produce tool outputs rather than prose.
type Researcher interface {
	Research(ctx context.Context, proj *chat.Projection, text *stream.Streamable[string], history []chat.Message, specificAPI bool) (ResearchResult, error)
}

// Writer composes the final answer from tool outputs when the deployment
// separates tool invocation from answer composition.
type Writer interface {
	Compose(ctx context.Context, proj *chat.Projection, text *stream.Streamable[string], history []chat.Message) (string, error)
}

// Suggester streams related follow-up queries after a successful answer.
type Suggester interface {
	Suggest(ctx context.Context, proj *chat.Projection, history []chat.Message) (Related, error)
}
