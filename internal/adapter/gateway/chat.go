package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"agentkit/internal/domain"
)

// chatRequest is the POST /v1/chat body.
type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Input          string `json:"input"`
}

// sseEvent is the JSON payload of one SSE frame. Type is "content" for
// incremental output and "done" for the terminal frame; done carries run
// totals, or the error when the run failed.
type sseEvent struct {
	Type        string  `json:"type"`
	Content     string  `json:"content,omitempty"`
	TotalTokens int     `json:"total_tokens,omitempty"`
	Cost        float64 `json:"cost,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// maxChatBodySize bounds the request body.
const maxChatBodySize = 1 << 20

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodySize))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	if req.ConversationID != "" && s.conversations != nil {
		if err := s.conversations.Append(ctx, req.ConversationID, domain.Message{
			Role:      domain.RoleUser,
			Content:   req.Input,
			Timestamp: time.Now(),
		}); err != nil {
			s.logger.Warn("conversation append failed", "conversation_id", req.ConversationID, "error", err)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var final string
	done := sseEvent{Type: "done"}
	for step := range s.streamer.Stream(ctx, req.Input) {
		switch step.Kind {
		case domain.StepThought, domain.StepFinalAnswer:
			s.writeEvent(w, flusher, sseEvent{Type: "content", Content: step.Content})
			if step.Kind == domain.StepFinalAnswer {
				final = step.Content
				if step.Usage != nil {
					done.TotalTokens = step.Usage.TotalTokens
					done.Cost = step.Usage.EstimatedCost
				}
			}
		case domain.StepError:
			done.Error = step.Content
		}
	}
	s.writeEvent(w, flusher, done)

	if final != "" && req.ConversationID != "" && s.conversations != nil {
		if err := s.conversations.Append(ctx, req.ConversationID, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   final,
			Timestamp: time.Now(),
		}); err != nil {
			s.logger.Warn("conversation append failed", "conversation_id", req.ConversationID, "error", err)
		}
	}
}

// writeEvent frames one payload as an SSE data line.
func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, event sseEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
