package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/events"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// LLMResponse holds the fully-collected response from a streaming LLM call.
type LLMResponse struct {
	Text         string
	ThinkingText string
	ToolCalls    []agent.ToolCall
	Usage        *models.TokenUsage
}

// StreamCallback is called for each content delta during stream collection.
// chunkType identifies the content kind (thinking or response). delta is the
// new content from this chunk only (not accumulated). Subscribers concatenate
// deltas locally, which keeps each broadcast payload small.
type StreamCallback func(chunkType string, delta string)

// Chunk type labels carried in stream envelopes.
const (
	ChunkTypeThinking = "thinking"
	ChunkTypeResponse = "response"
)

// collectStream drains an LLM chunk channel into a complete LLMResponse.
// Returns an error if an ErrorChunk is received.
func collectStream(stream <-chan agent.Chunk) (*LLMResponse, error) {
	return collectStreamWithCallback(stream, nil)
}

// collectStreamWithCallback collects a stream while calling back for
// real-time delivery. The callback is optional (nil = buffered mode,
// same as collectStream).
func collectStreamWithCallback(
	stream <-chan agent.Chunk,
	callback StreamCallback,
) (*LLMResponse, error) {
	resp := &LLMResponse{}
	var textBuf, thinkingBuf strings.Builder

	for chunk := range stream {
		switch c := chunk.(type) {
		case *agent.TextChunk:
			textBuf.WriteString(c.Content)
			if callback != nil {
				callback(ChunkTypeResponse, c.Content)
			}
		case *agent.ThinkingChunk:
			thinkingBuf.WriteString(c.Content)
			if callback != nil {
				callback(ChunkTypeThinking, c.Content)
			}
		case *agent.ToolCallChunk:
			resp.ToolCalls = append(resp.ToolCalls, agent.ToolCall{
				ID:        c.CallID,
				Name:      c.Name,
				Arguments: c.Arguments,
			})
		case *agent.UsageChunk:
			resp.Usage = &models.TokenUsage{
				InputTokens:  int(c.InputTokens),
				OutputTokens: int(c.OutputTokens),
				TotalTokens:  int(c.TotalTokens),
			}
		case *agent.ErrorChunk:
			return nil, fmt.Errorf("LLM error: %s (code: %s, retryable: %v)",
				c.Message, c.Code, c.Retryable)
		}
	}

	resp.Text = textBuf.String()
	resp.ThinkingText = thinkingBuf.String()
	return resp, nil
}

// callLLM performs one LLM call end to end: opens a capture scope, streams
// content deltas to live subscribers while the response arrives, and records
// the final conversation on the scope. Every controller LLM call goes through
// here so that no call escapes capture.
//
// interactionType tags the capture record (normal, forced_conclusion, ...).
// stepDescription is a short human-readable label for dashboards.
func callLLM(
	ctx context.Context,
	execCtx *agent.ExecutionContext,
	input *agent.GenerateInput,
	interactionType string,
	stepDescription string,
) (*LLMResponse, error) {
	scope := execCtx.Hooks.NewLLMScope(execCtx.SessionID, &execCtx.ExecutionID,
		execCtx.Config.LLMProviderName, execCtx.Config.LLMProvider.Model, stepDescription)
	scope.Interaction.InteractionType = interactionType

	resp, err := generateAndCollect(ctx, execCtx, input, scope.Interaction.InteractionID)
	if err != nil {
		scope.Finish(ctx, err)
		return nil, err
	}

	scope.CompleteSuccess(conversationWithReply(input.Messages, resp), resp.Usage)
	scope.Finish(ctx, nil)
	return resp, nil
}

// generateAndCollect issues the LLM call and drains the chunk stream,
// forwarding content deltas to live subscribers when streaming is enabled.
func generateAndCollect(
	ctx context.Context,
	execCtx *agent.ExecutionContext,
	input *agent.GenerateInput,
	interactionID string,
) (*LLMResponse, error) {
	// Derive a cancellable context so the receive goroutine in Generate is
	// always cleaned up when we return.
	llmCtx, llmCancel := context.WithCancel(ctx)
	defer llmCancel()

	stream, err := execCtx.LLMClient.Generate(llmCtx, input)
	if err != nil {
		return nil, fmt.Errorf("LLM Generate failed: %w", err)
	}

	var callback StreamCallback
	if execCtx.Stream != nil {
		callback = func(chunkType string, delta string) {
			if delta == "" {
				return // nothing to deliver
			}
			if pubErr := execCtx.Stream.PublishLLMStreamChunk(execCtx.SessionID, interactionID,
				&execCtx.ExecutionID, chunkType, delta, events.StreamStatusIntermediate); pubErr != nil {
				slog.Warn("Failed to publish LLM stream chunk",
					"session_id", execCtx.SessionID, "interaction_id", interactionID, "error", pubErr)
			}
		}
	}

	resp, err := collectStreamWithCallback(stream, callback)
	if err != nil {
		return nil, err
	}

	// Close the stream for subscribers: exactly one final_answer marker per
	// completed stream. A failed stream ends without a marker.
	if execCtx.Stream != nil {
		if pubErr := execCtx.Stream.PublishLLMStreamChunk(execCtx.SessionID, interactionID,
			&execCtx.ExecutionID, ChunkTypeResponse, "", events.StreamStatusFinal); pubErr != nil {
			slog.Warn("Failed to publish LLM stream final marker",
				"session_id", execCtx.SessionID, "interaction_id", interactionID, "error", pubErr)
		}
	}
	return resp, nil
}

// conversationWithReply builds the conversation for the capture record:
// the request messages plus the assistant reply. The caller's slice is
// never mutated.
func conversationWithReply(messages []models.ConversationMessage, resp *LLMResponse) []models.ConversationMessage {
	conversation := make([]models.ConversationMessage, len(messages), len(messages)+1)
	copy(conversation, messages)
	return append(conversation, assistantMessage(resp))
}

// assistantMessage converts a collected response into a conversation record.
func assistantMessage(resp *LLMResponse) models.ConversationMessage {
	return models.ConversationMessage{
		Role:      models.RoleAssistant,
		Content:   resp.Text,
		ToolCalls: modelToolCalls(resp.ToolCalls),
	}
}
