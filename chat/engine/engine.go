// Package engine orchestrates one chat send end to end: channel and
// credential resolution, history filtering, the bounded tool-continuation
// loop around the stream reader, event emission, and persistence of the
// finished (or interrupted) assistant turn. The engine owns no protocol
// knowledge; adapters and the stream reader do the wire work.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/chat/events"
	"github.com/parley-chat/parley/chat/history"
	"github.com/parley-chat/parley/chat/registry"
	"github.com/parley-chat/parley/chat/tools"
	"github.com/parley-chat/parley/llm/httpx"
	"github.com/parley-chat/parley/llm/provider"
	"github.com/parley-chat/parley/llm/stream"
	"github.com/parley-chat/parley/llm/types"
)

// Config holds the engine's tunable limits.
type Config struct {
	// MaxToolRounds bounds the number of stream requests a single send may
	// issue. When the model still requests tools on the final round, the
	// accumulated answer is finalized as-is.
	MaxToolRounds int

	// ToolOutputLimit caps the characters of a single tool result fed back
	// to the model. Non-positive disables truncation.
	ToolOutputLimit int
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxToolRounds:   5,
		ToolOutputLimit: tools.DefaultOutputLimit,
	}
}

// Engine runs chat sends. It is safe for concurrent use across
// conversations; within one conversation a new send supersedes the previous
// one via the handle registry.
type Engine struct {
	channels    ChannelLookup
	credentials CredentialStore
	store       HistoryStore

	toolset   *tools.Registry
	sessions  *registry.Registry
	emitter   *events.Emitter
	images    types.AttachmentReader
	documents DocumentExtractor

	streamClient *http.Client
	titleClient  *http.Client
	logger       *slog.Logger
	cfg          Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig overrides the default limits.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithTools sets the tool registry offered to the model.
func WithTools(reg *tools.Registry) Option {
	return func(e *Engine) { e.toolset = reg }
}

// WithAttachmentReader sets the resolver for image attachments.
func WithAttachmentReader(r types.AttachmentReader) Option {
	return func(e *Engine) { e.images = r }
}

// WithDocumentExtractor sets the extractor for non-image attachments.
func WithDocumentExtractor(d DocumentExtractor) Option {
	return func(e *Engine) { e.documents = d }
}

// WithStreamClient overrides the HTTP client used for streaming calls.
func WithStreamClient(c *http.Client) Option {
	return func(e *Engine) { e.streamClient = c }
}

// WithTitleClient overrides the HTTP client used for title calls.
func WithTitleClient(c *http.Client) Option {
	return func(e *Engine) { e.titleClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine around the given collaborators.
func New(channels ChannelLookup, credentials CredentialStore, store HistoryStore, opts ...Option) *Engine {
	// The zero proxy config is direct dialing and cannot fail.
	streamClient, _ := httpx.NewStreamingClient(httpx.ProxyConfig{})
	titleClient, _ := httpx.NewRequestClient(httpx.ProxyConfig{}, 30*time.Second)

	e := &Engine{
		channels:     channels,
		credentials:  credentials,
		store:        store,
		sessions:     registry.New(),
		emitter:      events.NewEmitter(),
		streamClient: streamClient,
		titleClient:  titleClient,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:          DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events returns the emitter that delivers this engine's chat events.
func (e *Engine) Events() *events.Emitter { return e.emitter }

// Stop cancels the active send for a conversation, if any.
func (e *Engine) Stop(conversationID string) {
	e.sessions.Stop(conversationID)
}

// Shutdown cancels every active send. Each send still runs its own
// interruption path and emits its terminal event.
func (e *Engine) Shutdown() {
	e.sessions.StopAll()
}

// ActiveSends returns the number of conversations with an in-flight send.
func (e *Engine) ActiveSends() int { return e.sessions.Len() }

// SendRequest describes one user send.
type SendRequest struct {
	ConversationID string
	ChannelID      string
	Model          string

	// Text is the current user message.
	Text string

	// Attachments belong to the current user message. Image attachments are
	// passed to the adapter inline; other attachments are extracted to text.
	Attachments []types.Attachment

	// SystemPrompt is an optional system prompt.
	SystemPrompt string

	// Thinking requests extended reasoning where the provider supports it.
	Thinking bool

	// DividerIDs are context-divider message ids; history at or before the
	// last one present is excluded from the model context.
	DividerIDs []string

	// ContextRounds limits history to the most recent N user rounds. Nil
	// means unlimited; zero sends no history at all.
	ContextRounds *int
}

// SendMessage runs one send to completion. Exactly one terminal event is
// emitted per invocation: complete on success or cancellation, error on
// failure. The returned error mirrors the error event; cancellation is not
// an error.
func (e *Engine) SendMessage(ctx context.Context, req SendRequest) error {
	h := e.sessions.Begin(ctx, req.ConversationID)
	defer e.sessions.End(h)

	messageID, err := e.send(h, req)
	if err != nil {
		e.logger.Warn("send failed",
			"conversation", req.ConversationID, "error", err)
		e.emitter.Emit(events.Event{
			Kind:           events.KindError,
			ConversationID: req.ConversationID,
			Message:        err.Error(),
		})
		return err
	}

	e.emitter.Emit(events.Event{
		Kind:           events.KindComplete,
		ConversationID: req.ConversationID,
		MessageID:      messageID,
	})
	return nil
}

// send runs the resolution, filtering, and tool loop for one send. It
// returns the persisted message id, or "" with a nil error when a cancelled
// send had accumulated nothing worth persisting.
func (e *Engine) send(h *registry.Handle, req SendRequest) (string, error) {
	ctx := h.Context()

	channel, err := e.channels.Find(req.ChannelID)
	if err != nil {
		return "", types.NewConfigurationError(
			fmt.Sprintf("channel %q not found", req.ChannelID), err)
	}
	apiKey, err := e.credentials.Decrypt(req.ChannelID)
	if err != nil {
		return "", types.NewConfigurationError(
			fmt.Sprintf("decrypting credential for channel %q", req.ChannelID), err)
	}
	adapter, err := provider.Resolve(channel.Provider)
	if err != nil {
		return "", err
	}

	stored, err := e.store.Read(req.ConversationID)
	if err != nil {
		return "", fmt.Errorf("reading history: %w", err)
	}
	rounds := history.InfiniteRounds
	if req.ContextRounds != nil {
		rounds = *req.ContextRounds
	}
	trimmed := history.Filter(stored, req.DividerIDs, rounds)

	userText := e.resolveDocuments(ctx, req.Text, req.Attachments)
	imageAttachments := onlyImages(req.Attachments)

	var defs []types.ToolDefinition
	if e.toolset != nil {
		defs = e.toolset.Definitions()
	}

	e.logger.Debug("send starting",
		"conversation", req.ConversationID,
		"provider", adapter.Name(),
		"model", req.Model,
		"history", len(trimmed),
		"tools", len(defs))

	// Reasoning deltas are delivered live through the emitter only; the
	// persisted turn carries the answer text.
	var (
		content      string
		continuation []types.ContinuationMessage
	)

	for round := 0; round < e.cfg.MaxToolRounds; round++ {
		chatReq := types.ChatRequest{
			BaseURL:      channel.BaseURL,
			APIKey:       apiKey,
			Model:        req.Model,
			History:      toChatMessages(trimmed),
			UserText:     userText,
			Attachments:  imageAttachments,
			SystemText:   req.SystemPrompt,
			Thinking:     req.Thinking,
			Tools:        defs,
			Continuation: continuation,
			Images:       e.images,
		}
		wire, err := adapter.BuildStreamRequest(chatReq)
		if err != nil {
			return "", err
		}

		result, err := stream.Run(ctx, e.streamClient, wire, adapter, e.sink(req.ConversationID))
		content += result.Content

		if errors.Is(err, stream.ErrStopped) || h.Stopped() {
			return e.persistInterrupted(req.ConversationID, content)
		}
		if err != nil {
			// A mid-flight failure already surfaced its partial content through
			// live chunk events; the turn itself is not persisted as a success.
			return "", err
		}

		if !result.StopReason.IsToolUse() || len(result.ToolCalls) == 0 {
			e.logger.Debug("send finished",
				"conversation", req.ConversationID,
				"rounds", round+1,
				"stop", result.StopReason.Reason)
			return e.persistFinal(req.ConversationID, content)
		}

		results, stopped := e.executeTools(h, req.ConversationID, result.ToolCalls)
		if stopped {
			return e.persistInterrupted(req.ConversationID, content)
		}

		continuation = append(continuation,
			types.AssistantContinuation(result.Content, result.ToolCalls),
			types.ToolContinuation(results))
	}

	// Round budget exhausted while the model still wanted tools; finalize
	// whatever answer text accumulated.
	e.logger.Warn("tool round limit reached",
		"conversation", req.ConversationID, "limit", e.cfg.MaxToolRounds)
	return e.persistFinal(req.ConversationID, content)
}

// sink adapts canonical stream events into live chat events.
func (e *Engine) sink(conversationID string) stream.Sink {
	return func(evt types.StreamEvent) {
		switch evt.Type {
		case types.StreamEventChunk:
			e.emitter.Emit(events.Event{
				Kind:           events.KindChunk,
				ConversationID: conversationID,
				Delta:          evt.Delta,
			})
		case types.StreamEventReasoning:
			e.emitter.Emit(events.Event{
				Kind:           events.KindReasoning,
				ConversationID: conversationID,
				Delta:          evt.Delta,
			})
		case types.StreamEventToolCallStart:
			e.emitter.Emit(events.Event{
				Kind:           events.KindToolActivity,
				ConversationID: conversationID,
				ToolName:       evt.ToolCallName,
				ToolPhase:      events.ToolPhaseStart,
			})
		}
	}
}

// executeTools runs the round's tool calls one at a time, in the order the
// model issued them. Unknown tools and executor failures become error results
// carried back to the model; they never abort the send. stopped is true when
// cancellation fired between executions.
func (e *Engine) executeTools(h *registry.Handle, conversationID string, calls []types.ToolCall) (results []types.ToolResult, stopped bool) {
	for _, call := range calls {
		if h.Stopped() {
			return results, true
		}

		output, isErr := e.runTool(h.Context(), call)
		if h.Stopped() {
			return results, true
		}

		results = append(results, types.ToolResult{
			ToolCallID: call.ID,
			Content:    output,
			IsError:    isErr,
		})
		e.emitter.Emit(events.Event{
			Kind:           events.KindToolActivity,
			ConversationID: conversationID,
			ToolName:       call.Name,
			ToolPhase:      events.ToolPhaseResult,
			ToolIsError:    isErr,
		})
	}
	return results, false
}

func (e *Engine) runTool(ctx context.Context, call types.ToolCall) (output string, isErr bool) {
	var registered *tools.RegisteredTool
	if e.toolset != nil {
		registered = e.toolset.Get(call.Name)
	}
	if registered == nil {
		e.logger.Warn("model requested unknown tool", "tool", call.Name)
		return fmt.Sprintf("Unknown tool: %s", call.Name), true
	}

	e.logger.Debug("executing tool", "tool", call.Name, "call", call.ID)
	out, err := registered.Execute(ctx, call.Arguments)
	if err != nil {
		e.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return err.Error(), true
	}
	return tools.TruncateOutput(out, e.cfg.ToolOutputLimit), false
}

// persistFinal appends the finished assistant turn and returns its id.
func (e *Engine) persistFinal(conversationID, content string) (string, error) {
	return e.persist(conversationID, content, false)
}

// persistInterrupted handles the cancellation outcome: a partial turn is
// persisted marked interrupted, and a content-less cancellation persists
// nothing and completes with an empty message id.
func (e *Engine) persistInterrupted(conversationID, content string) (string, error) {
	e.logger.Info("send cancelled",
		"conversation", conversationID, "partial", len(content) > 0)
	if content == "" {
		return "", nil
	}
	return e.persist(conversationID, content, true)
}

func (e *Engine) persist(conversationID, content string, interrupted bool) (string, error) {
	msg := history.Message{
		ID:          uuid.NewString(),
		Role:        types.RoleAssistant,
		Content:     content,
		Interrupted: interrupted,
		CreatedAt:   time.Now(),
	}
	if err := e.store.Append(conversationID, msg); err != nil {
		return "", fmt.Errorf("persisting assistant turn: %w", err)
	}
	// Bookkeeping only; a failed touch never fails the send.
	if err := e.store.Touch(conversationID); err != nil {
		e.logger.Warn("touching conversation failed",
			"conversation", conversationID, "error", err)
	}
	return msg.ID, nil
}

// resolveDocuments inlines the text of non-image attachments into the user
// message. An extraction failure degrades to a placeholder so one unreadable
// file never blocks the send.
func (e *Engine) resolveDocuments(ctx context.Context, text string, attachments []types.Attachment) string {
	for _, att := range attachments {
		if att.IsImage() {
			continue
		}
		name := att.Name
		if name == "" {
			name = att.Path
		}

		if e.documents == nil {
			text += fmt.Sprintf("\n\n[Attached file: %s (content not available)]", name)
			continue
		}
		extracted, err := e.documents.ExtractText(ctx, att)
		if err != nil {
			e.logger.Warn("document extraction failed", "attachment", name, "error", err)
			text += fmt.Sprintf("\n\n[Attached file: %s (could not be read)]", name)
			continue
		}
		text += fmt.Sprintf("\n\n[Attached file: %s]\n%s", name, extracted)
	}
	return text
}

func onlyImages(attachments []types.Attachment) []types.Attachment {
	var imgs []types.Attachment
	for _, att := range attachments {
		if att.IsImage() {
			imgs = append(imgs, att)
		}
	}
	return imgs
}

func toChatMessages(msgs []history.Message) []types.ChatMessage {
	out := make([]types.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, types.ChatMessage{
			Role:        m.Role,
			Content:     m.Content,
			Attachments: m.Attachments,
		})
	}
	return out
}
