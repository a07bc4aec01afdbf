// ABOUTME: Anthropic-backed implementations of the five pipeline agents
// ABOUTME: Streams partial text into the turn's projection and text channel as it arrives

package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/sibyl-sh/sibyl/internal/chat"
	"github.com/sibyl-sh/sibyl/internal/stream"
)

const (
	// DefaultModel is used when the config does not name one.
	DefaultModel = "claude-sonnet-4-5"
	// DefaultMaxTokens bounds each agent call.
	DefaultMaxTokens = 2500

	searchToolName = "search"
)

// AnthropicConfig configures the shared LLM client behind all agents.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

// Anthropic implements TaskManager, Inquirer, Researcher, Writer and
// Suggester over the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	prompts   *Prompts
	search    *SearchClient
	logger    *slog.Logger
}

// NewAnthropic creates the agent bundle. The search client may be nil, in
// which case the researcher answers without tools.
func NewAnthropic(cfg AnthropicConfig, prompts *Prompts, search *SearchClient, logger *slog.Logger) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Anthropic{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
		prompts:   prompts,
		search:    search,
		logger:    logger.With("component", "agents"),
	}
}

// Decide classifies the history into proceed-or-inquire. Transport or parse
// failures surface as errors; the engine maps them to proceed.
func (a *Anthropic) Decide(ctx context.Context, history []chat.Message) (Decision, error) {
	msg, err := a.client.Messages.New(ctx, a.params(a.prompts.TaskManager.System, history))
	if err != nil {
		return Decision{}, fmt.Errorf("task manager call: %w", err)
	}

	var out struct {
		Next string `json:"next"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(messageText(msg))), &out); err != nil {
		return Decision{}, fmt.Errorf("task manager output: %w", err)
	}
	return ParseDecision(out.Next)
}

// Inquire streams a clarifying question into the projection.
func (a *Anthropic) Inquire(ctx context.Context, proj *chat.Projection, history []chat.Message) (Inquiry, error) {
	nodeID := uuid.New().String()
	var question strings.Builder
	first := true

	_, err := a.streamText(ctx, a.params(a.prompts.Inquirer.System, history), func(delta string) {
		question.WriteString(delta)
		node := chat.NewNode(nodeID, chat.NodeInquiry, question.String())
		if first {
			first = false
			_ = proj.Append(node)
			return
		}
		_ = proj.Replace(node)
	})
	if err != nil {
		return Inquiry{}, fmt.Errorf("inquirer call: %w", err)
	}
	return Inquiry{Question: strings.TrimSpace(question.String())}, nil
}

// Research runs one answer-generation iteration. Text deltas stream into the
// text channel and the projection; tool calls are executed against the search
// client and returned as outputs for the engine to stage. Failures are
// reported as data on the result, never as a hard error of the turn.
func (a *Anthropic) Research(ctx context.Context, proj *chat.Projection, text *stream.Streamable[string], history []chat.Message, specificAPI bool) (ResearchResult, error) {
	params := a.params(a.prompts.Researcher.System, history)
	if a.search != nil {
		params.Tools = []anthropic.ToolUnionParam{{OfTool: a.searchTool()}}
		if specificAPI {
			// Tool-only iteration: composition is the writer's job.
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		}
	}

	nodeID := uuid.New().String()
	var answer strings.Builder
	first := true

	msg, err := a.streamText(ctx, params, func(delta string) {
		answer.WriteString(delta)
		_ = text.Append(answer.String())
		node := chat.NewNode(nodeID, chat.NodeAnswer, answer.String())
		if first {
			first = false
			_ = proj.Append(node)
			return
		}
		_ = proj.Replace(node)
	})

	result := ResearchResult{Answer: answer.String()}
	if err != nil {
		a.logger.Warn("researcher stream failed", "error", err)
		result.HadError = true
		return result, nil
	}

	result.ToolOutputs = a.runToolCalls(ctx, proj, msg, &result.HadError)
	return result, nil
}

// runToolCalls executes every tool_use block in the response and surfaces
// each result as a projection section plus a ToolOutput for the engine.
func (a *Anthropic) runToolCalls(ctx context.Context, proj *chat.Projection, msg anthropic.Message, hadError *bool) []ToolOutput {
	var outputs []ToolOutput
	for _, block := range msg.Content {
		variant, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok || variant.Name != searchToolName {
			continue
		}

		var input struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(variant.JSON.Input.Raw()), &input); err != nil || input.Query == "" {
			a.logger.Warn("malformed search tool input", "tool_id", variant.ID)
			*hadError = true
			continue
		}

		resp, err := a.search.Search(ctx, input.Query)
		if err != nil {
			a.logger.Warn("search tool failed", "query", input.Query, "error", err)
			*hadError = true
			continue
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			*hadError = true
			continue
		}
		outputs = append(outputs, ToolOutput{ID: variant.ID, Name: searchToolName, Result: payload})
		_ = proj.Append(chat.NewNode(uuid.New().String(), chat.NodeSection, searchSectionMarkdown(resp)))
	}
	return outputs
}

// Compose writes the final answer from tool output already staged in the
// history as assistant-role JSON content.
func (a *Anthropic) Compose(ctx context.Context, proj *chat.Projection, text *stream.Streamable[string], history []chat.Message) (string, error) {
	nodeID := uuid.New().String()
	var answer strings.Builder
	first := true

	_, err := a.streamText(ctx, a.params(a.prompts.Writer.System, history), func(delta string) {
		answer.WriteString(delta)
		_ = text.Append(answer.String())
		node := chat.NewNode(nodeID, chat.NodeAnswer, answer.String())
		if first {
			first = false
			_ = proj.Append(node)
			return
		}
		_ = proj.Replace(node)
	})
	if err != nil {
		return "", fmt.Errorf("writer call: %w", err)
	}
	return answer.String(), nil
}

// Suggest produces follow-up queries and appends them to the projection.
func (a *Anthropic) Suggest(ctx context.Context, proj *chat.Projection, history []chat.Message) (Related, error) {
	msg, err := a.client.Messages.New(ctx, a.params(a.prompts.Suggester.System, history))
	if err != nil {
		return Related{}, fmt.Errorf("suggester call: %w", err)
	}

	var out struct {
		Related []string `json:"related"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(messageText(msg))), &out); err != nil {
		return Related{}, fmt.Errorf("suggester output: %w", err)
	}

	_ = proj.Append(chat.NewNode(uuid.New().String(), chat.NodeRelated, relatedMarkdown(out.Related)))
	return Related{Queries: out.Related}, nil
}

// params builds the shared request shape for one agent call.
func (a *Anthropic) params(system string, history []chat.Message) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  historyToParams(history),
	}
}

// searchTool describes the web search tool to the model.
func (a *Anthropic) searchTool() *anthropic.ToolParam {
	return &anthropic.ToolParam{
		Name:        searchToolName,
		Description: anthropic.String("Search the web for current information. Returns a list of result snippets with URLs."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			Required: []string{"query"},
		},
	}
}

// streamText runs one streaming request, invoking onDelta for each text
// fragment, and returns the accumulated message.
func (a *Anthropic) streamText(ctx context.Context, params anthropic.MessageNewParams, onDelta func(string)) (anthropic.Message, error) {
	s := a.client.Messages.NewStreaming(ctx, params)
	var acc anthropic.Message
	for s.Next() {
		event := s.Current()
		if err := acc.Accumulate(event); err != nil {
			return acc, fmt.Errorf("accumulating stream event: %w", err)
		}
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				onDelta(delta.Text)
			}
		}
	}
	if err := s.Err(); err != nil {
		return acc, fmt.Errorf("message stream: %w", err)
	}
	return acc, nil
}

// historyToParams maps the staged history onto API messages. System messages
// are carried via the per-agent system prompt instead; tool/function/data
// roles are presented as user content since the raw tool exchange is not
// replayed across separate agent calls.
func historyToParams(history []chat.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		if m.Role == chat.RoleSystem || m.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == chat.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}

// messageText concatenates the text blocks of a response.
func messageText(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

// extractJSONObject pulls the outermost JSON object out of model output that
// may be wrapped in prose or code fences.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

// searchSectionMarkdown renders one tool result set for the projection.
func searchSectionMarkdown(resp *SearchResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Search:** %s\n\n", resp.Query)
	for _, r := range resp.Results {
		fmt.Fprintf(&sb, "- [%s](%s)\n", r.Title, r.URL)
	}
	return sb.String()
}

// relatedMarkdown renders the follow-up queries as a list.
func relatedMarkdown(queries []string) string {
	var sb strings.Builder
	sb.WriteString("**Related**\n\n")
	for _, q := range queries {
		fmt.Fprintf(&sb, "- %s\n", q)
	}
	return sb.String()
}
