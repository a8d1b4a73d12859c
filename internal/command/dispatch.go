package command

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/taskbot/internal/tasks"
	"github.com/basket/taskbot/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Message is one inbound command, stripped to what handlers need.
type Message struct {
	ChatID   int64
	UserID   int64
	Username string
	Text     string
}

// Button is one inline-keyboard button carrying an opaque callback payload.
type Button struct {
	Label string
	Data  string
}

// Document is a file attached to a reply.
type Document struct {
	Name string
	Data []byte
}

// Reply is what a handler hands back to the transport.
type Reply struct {
	Text     string
	Keyboard [][]Button
	Document *Document
}

// HandlerFunc processes one validated command invocation.
type HandlerFunc func(ctx context.Context, msg *Message, args Args) (Reply, error)

// Handler pairs a parameter declaration with the function it guards.
type Handler struct {
	Params []Param
	Handle HandlerFunc
}

// Dispatcher routes command names to handlers. The table is built once at
// startup; dispatch is a plain map lookup, no reflection.
type Dispatcher struct {
	handlers map[string]Handler
	fallback HandlerFunc
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

func NewDispatcher(logger *slog.Logger, metrics *telemetry.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger,
		metrics:  metrics,
	}
}

// Register binds a command name (without the leading slash) to a handler.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

// SetFallback installs the handler invoked for unknown commands.
func (d *Dispatcher) SetFallback(fn HandlerFunc) {
	d.fallback = fn
}

// commandName extracts the command from the first token, dropping the slash
// and any @botname suffix Telegram appends in group chats.
func commandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// Dispatch validates and runs the command in msg. Every failure is mapped to
// a user-facing reply; errors never escape a single invocation.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) Reply {
	name := commandName(msg.Text)
	logger := d.logger.With("trace_id", uuid.NewString(), "command", name, "chat_id", msg.ChatID)
	start := time.Now()

	h, ok := d.handlers[name]
	if !ok {
		logger.Debug("unknown command")
		if d.fallback == nil {
			return Reply{Text: "Unknown command. Try /help."}
		}
		reply, _ := d.fallback(ctx, msg, nil)
		return reply
	}

	args, err := Parse(msg.Text, h.Params)
	if err != nil {
		logger.Info("argument validation failed", "error", err)
		d.count(ctx, name, "validation_error")
		return Reply{Text: err.Error()}
	}

	reply, err := h.Handle(ctx, msg, args)
	d.observe(ctx, name, time.Since(start))
	if err != nil {
		return d.errorReply(ctx, logger, name, err)
	}
	d.count(ctx, name, "ok")
	return reply
}

// errorReply maps store errors onto reply text. Unknown errors are logged and
// answered generically; the process keeps serving.
func (d *Dispatcher) errorReply(ctx context.Context, logger *slog.Logger, name string, err error) Reply {
	var (
		validationErr *tasks.ValidationError
		codecErr      *tasks.CodecError
	)
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		d.count(ctx, name, "not_found")
		return Reply{Text: "No task with such id"}
	case errors.Is(err, tasks.ErrEmpty):
		d.count(ctx, name, "empty")
		return Reply{Text: "No tasks in this chat yet"}
	case errors.As(err, &validationErr):
		d.count(ctx, name, "validation_error")
		return Reply{Text: "Invalid " + validationErr.Field + ": " + validationErr.Reason}
	case errors.As(err, &codecErr):
		logger.Error("stored record is malformed", "error", err)
		d.count(ctx, name, "codec_error")
		return Reply{Text: "A stored task could not be read; the operation was aborted."}
	}
	logger.Error("command failed", "error", err)
	d.count(ctx, name, "error")
	return Reply{Text: "Something went wrong, try again later"}
}

func (d *Dispatcher) count(ctx context.Context, name, outcome string) {
	if d.metrics == nil {
		return
	}
	d.metrics.CommandsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", name),
		attribute.String("outcome", outcome),
	))
}

func (d *Dispatcher) observe(ctx context.Context, name string, elapsed time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.CommandDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("command", name),
	))
}
