package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/andresmejia3/facegate/internal/session"
)

// CommandTimeout bounds how long a request waits on the control loop.
var CommandTimeout = 5 * time.Second

// Request is a control message.
type Request struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
	Label   int    `json:"label,omitempty"`
}

// Response answers one Request. ID echoes the request so callers can
// correlate.
type Response struct {
	ID        string `json:"id,omitempty"`
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"`
	session.Reply
}

// Handler bridges control messages onto the session command channel.
type Handler struct {
	client   paho.Client
	topics   Topics
	commands chan<- session.Command
	requests chan []byte
}

// NewHandler returns a handler; Start subscribes it.
func NewHandler(client paho.Client, topics Topics, commands chan<- session.Command) *Handler {
	return &Handler{
		client:   client,
		topics:   topics,
		commands: commands,
		requests: make(chan []byte, 10),
	}
}

// Start subscribes to the control topic and serves requests until ctx ends.
func (h *Handler) Start(ctx context.Context) error {
	slog.Info("subscribing to control plane", "topic", h.topics.Control)

	token := h.client.Subscribe(h.topics.Control, 1, h.messageHandler)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	go h.processRequests(ctx)
	return nil
}

// Stop unsubscribes. Requests already queued are abandoned.
func (h *Handler) Stop() {
	if h.client != nil && h.client.IsConnected() {
		h.client.Unsubscribe(h.topics.Control).WaitTimeout(publishTimeout)
	}
	slog.Info("control plane handler stopped")
}

// messageHandler runs on paho's goroutine and must not block.
func (h *Handler) messageHandler(_ paho.Client, msg paho.Message) {
	select {
	case h.requests <- msg.Payload():
	default:
		slog.Warn("control queue full, dropping request", "topic", msg.Topic())
	}
}

func (h *Handler) processRequests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-h.requests:
			resp := Handle(ctx, h.commands, payload)
			if err := respond(h.client, h.topics.Response, resp); err != nil {
				slog.Warn("failed to publish control response", "id", resp.ID, "error", err)
			}
		}
	}
}

// Handle decodes one payload, runs it through the control loop and builds
// the response. Malformed input never reaches the loop.
func Handle(ctx context.Context, commands chan<- session.Command, payload []byte) Response {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		slog.Warn("failed to parse control request", "error", err)
		return failed(req, fmt.Errorf("invalid JSON: %w", err))
	}

	kind, ok := session.ParseKind(req.Command)
	if !ok {
		return failed(req, fmt.Errorf("%w: %q", session.ErrUnknownCommand, req.Command))
	}
	slog.Info("control request received", "command", kind, "id", req.ID)

	ctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()
	reply, err := session.Send(ctx, commands, kind, req.Label)
	if err != nil {
		return failed(req, fmt.Errorf("control loop not responding: %w", err))
	}
	return Response{ID: req.ID, Command: string(kind), Timestamp: stamp(), Reply: reply}
}

func failed(req Request, err error) Response {
	return Response{
		ID:        req.ID,
		Command:   req.Command,
		Timestamp: stamp(),
		Reply:     session.Reply{Code: session.Unknown, Error: err.Error(), Err: err},
	}
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func respond(p Publisher, topic string, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	token := p.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}
