// ABOUTME: HTTP API handlers for submitting chat turns and streaming results via SSE
// ABOUTME: Also provides chat history, sharing, and deletion endpoints

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sibyl-sh/sibyl/internal/auth"
	"github.com/sibyl-sh/sibyl/internal/chat"
	"github.com/sibyl-sh/sibyl/internal/engine"
	"github.com/sibyl-sh/sibyl/internal/store"
	"github.com/sibyl-sh/sibyl/internal/stream"
)

// ChatRequest is the JSON request body for POST /api/chat.
type ChatRequest struct {
	ChatID  string `json:"chat_id,omitempty"`
	Content string `json:"content"`
	Skip    bool   `json:"skip,omitempty"`
}

// ChatSummary is the JSON shape for chat list entries.
type ChatSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Path      string `json:"path"`
	SharePath string `json:"share_path,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ChatDetail is the JSON shape for a full chat record.
type ChatDetail struct {
	ChatSummary
	Messages []MessageResponse `json:"messages"`
}

// MessageResponse is the JSON shape for a single stored message.
type MessageResponse struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// SSEEvent represents a Server-Sent Event.
type SSEEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// parseChatRequest parses and validates a ChatRequest from the given reader.
// Content may be empty only for skip turns.
func parseChatRequest(r io.Reader) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if req.Content == "" && !req.Skip {
		return nil, errors.New("content is required")
	}

	return &req, nil
}

// handleChat handles POST /api/chat requests. It submits a turn to the
// engine and streams the turn's progress back as SSE events.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := parseChatRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Check streaming support before doing any work (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	userID := auth.UserID(r.Context())
	rec, err := g.resolveRecord(r, req.ChatID, userID)
	if err != nil {
		if errors.Is(err, store.ErrUnauthorized) {
			g.sendJSONError(w, http.StatusForbidden, "chat belongs to another user")
			return
		}
		g.logger.Error("failed to load chat", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	st := chat.NewState(rec, userID, g.saveHook(), g.logger)
	handle, related := g.engine.SubmitTurn(r.Context(), st, req.Content, req.Skip)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "started", map[string]string{
		"chat_id": rec.ID,
		"turn_id": handle.ID,
	})
	flusher.Flush()

	g.streamTurn(w, flusher, r, handle, related)
}

// resolveRecord loads an existing chat or starts a fresh record. A missing
// chat ID, or an ID the store has never seen, begins a new conversation.
func (g *Gateway) resolveRecord(r *http.Request, chatID, userID string) (chat.Record, error) {
	if chatID == "" {
		return chat.Record{ID: uuid.New().String()}, nil
	}

	if userID != "" {
		rec, err := g.store.GetChat(r.Context(), chatID, userID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return chat.Record{}, err
		}
	}

	// Anonymous callers and unknown IDs start a new record under the
	// requested ID so the client can keep its conversation key.
	return chat.Record{ID: chatID}, nil
}

// saveHook returns the persistence callback handed to chat.State.
func (g *Gateway) saveHook() chat.SaveHook {
	return func(ctx context.Context, rec chat.Record) error {
		return g.store.SaveChat(ctx, rec)
	}
}

// streamTurn multiplexes the turn handle's channels into a single SSE stream.
// The turn itself is detached from the request context, so a client
// disconnect stops the stream without aborting the turn.
func (g *Gateway) streamTurn(w http.ResponseWriter, flusher http.Flusher, r *http.Request, handle *engine.TurnHandle, related *stream.Streamable[[]string]) {
	ctx := r.Context()
	events := make(chan SSEEvent, 16)

	var wg sync.WaitGroup

	wg.Go(func() {
		ch, _ := handle.Display.Stream().Subscribe(ctx)
		for upd := range ch {
			if upd.Err != nil {
				events <- SSEEvent{Event: "error", Data: map[string]string{"error": upd.Err.Error()}}
				continue
			}
			events <- SSEEvent{Event: "nodes", Data: upd.Value}
		}
	})

	wg.Go(func() {
		ch, _ := handle.IsGenerating.Subscribe(ctx)
		for upd := range ch {
			events <- SSEEvent{Event: "generating", Data: map[string]bool{"value": upd.Value}}
		}
	})

	wg.Go(func() {
		ch, _ := handle.IsCollapsed.Subscribe(ctx)
		for upd := range ch {
			events <- SSEEvent{Event: "collapsed", Data: map[string]bool{"value": upd.Value}}
		}
	})

	wg.Go(func() {
		ch, _ := related.Subscribe(ctx)
		for upd := range ch {
			if upd.Err != nil || len(upd.Value) == 0 {
				continue
			}
			events <- SSEEvent{Event: "related", Data: map[string][]string{"queries": upd.Value}}
		}
	})

	go func() {
		wg.Wait()
		close(events)
	}()

	for ev := range events {
		g.writeSSEEvent(w, ev.Event, ev.Data)
		flusher.Flush()
	}

	g.writeSSEEvent(w, "done", map[string]string{})
	flusher.Flush()
}

// handleListChats handles GET /api/chats requests.
func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	chats, err := g.store.ListChats(r.Context(), userID, 0)
	if err != nil {
		g.logger.Error("failed to list chats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, toSummary(c))
	}

	g.sendJSON(w, http.StatusOK, map[string][]ChatSummary{"chats": out})
}

// handleGetChat handles GET /api/chats/{id} requests.
func (g *Gateway) handleGetChat(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	rec, err := g.store.GetChat(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, toDetail(rec))
}

// handleDeleteChat handles DELETE /api/chats/{id} requests.
func (g *Gateway) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := g.store.DeleteChat(r.Context(), r.PathValue("id"), userID); err != nil {
		g.sendStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleClearChats handles DELETE /api/chats requests.
func (g *Gateway) handleClearChats(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := g.store.ClearChats(r.Context(), userID); err != nil {
		g.logger.Error("failed to clear chats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleShareChat handles POST /api/chats/{id}/share requests.
func (g *Gateway) handleShareChat(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	rec, err := g.store.ShareChat(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, map[string]string{"share_path": rec.SharePath})
}

// handleGetSharedChat handles GET /api/share/{id} requests. No auth: a
// shared chat is public to anyone holding the link.
func (g *Gateway) handleGetSharedChat(w http.ResponseWriter, r *http.Request) {
	rec, err := g.store.GetSharedChat(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendStoreError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, toDetail(rec))
}

func toSummary(rec chat.Record) ChatSummary {
	return ChatSummary{
		ID:        rec.ID,
		Title:     rec.Title,
		Path:      rec.Path,
		SharePath: rec.SharePath,
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toDetail(rec chat.Record) ChatDetail {
	detail := ChatDetail{ChatSummary: toSummary(rec)}
	for _, m := range rec.Messages {
		detail.Messages = append(detail.Messages, MessageResponse{
			ID:      m.ID,
			Role:    string(m.Role),
			Content: m.Content,
			Name:    m.Name,
		})
	}
	return detail
}

// sendStoreError maps store errors onto HTTP statuses.
func (g *Gateway) sendStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, store.ErrUnauthorized):
		g.sendJSONError(w, http.StatusForbidden, "chat belongs to another user")
	default:
		g.logger.Error("store error", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSON writes a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
