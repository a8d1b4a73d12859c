// Package bot wires the command handlers to the Telegram transport.
// Handlers speak in transport-neutral Message/Reply values so they can be
// exercised in tests without a live bot API.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/basket/taskbot/internal/command"
	"github.com/basket/taskbot/internal/export"
	"github.com/basket/taskbot/internal/tasks"
)

const helpText = `/start - show this message
/help - show this message
/new <title> (description on the following lines)
/tasks [todo|do|done|all|me] [offset] - list tasks
/task <id> - show one task
/do [id] - take a task in progress (no id: list tasks in progress)
/done [id] - finish a task (no id: list finished tasks)
/todo [id] - put a task back to todo (no id: list todo tasks)
/update <id>, then title and description on the following lines
/export - download all tasks as CSV`

// descPreviewLen bounds the description fragment shown in listings.
const descPreviewLen = 16

// Handlers holds the per-command logic over the task store.
type Handlers struct {
	store    *tasks.Store
	pageSize int
}

func NewHandlers(store *tasks.Store, pageSize int) *Handlers {
	if pageSize <= 0 {
		pageSize = tasks.DefaultPageSize
	}
	return &Handlers{store: store, pageSize: pageSize}
}

// Register installs every command on the dispatcher. The table is built once
// at startup.
func (h *Handlers) Register(d *command.Dispatcher) {
	optionalID := []command.Param{
		{Name: "task_id", Type: "int", Coerce: command.Int, Default: int64(0)},
	}
	requiredID := []command.Param{
		{Name: "task_id", Type: "int", Coerce: command.Int, Required: true},
	}
	listing := []command.Param{
		{Name: "status", Type: "status", Coerce: command.StatusEnum, Default: command.StatusFilter{}},
		{Name: "offset", Type: "int", Coerce: command.Int, Default: int64(0)},
	}

	d.Register("new", command.Handler{Handle: h.newTask})
	d.Register("do", command.Handler{Params: optionalID, Handle: h.statusCommand(tasks.StatusDO)})
	d.Register("done", command.Handler{Params: optionalID, Handle: h.statusCommand(tasks.StatusDONE)})
	d.Register("todo", command.Handler{Params: optionalID, Handle: h.statusCommand(tasks.StatusTODO)})
	d.Register("tasks", command.Handler{Params: listing, Handle: h.listTasks})
	d.Register("task", command.Handler{Params: requiredID, Handle: h.showTask})
	d.Register("update", command.Handler{Handle: h.updateTask})
	d.Register("export", command.Handler{Handle: h.exportTasks})
	d.Register("help", command.Handler{Handle: h.help})
	d.Register("start", command.Handler{Handle: h.help})
	d.SetFallback(h.help)
}

// commandBody strips the leading command token, keeping the rest verbatim
// (newlines included). Used by the commands whose arguments are lines, not
// whitespace tokens.
func commandBody(text string) string {
	rest := strings.TrimLeft(text, " ")
	if i := strings.IndexAny(rest, " \n"); i >= 0 {
		return strings.TrimLeft(rest[i:], " ")
	}
	return ""
}

func (h *Handlers) newTask(ctx context.Context, msg *command.Message, _ command.Args) (command.Reply, error) {
	body := commandBody(msg.Text)
	title, description, _ := strings.Cut(body, "\n")
	taskID, err := h.store.Create(ctx, msg.ChatID, title, strings.TrimSpace(description))
	if err != nil {
		return command.Reply{}, err
	}
	return command.Reply{Text: fmt.Sprintf("Created task %d", taskID)}, nil
}

// statusCommand builds the /do, /done and /todo handlers. With a task id the
// task moves to the target status and is (re)assigned to the caller — or
// unassigned, for todo. Without one, tasks already in that status are listed.
func (h *Handlers) statusCommand(status tasks.Status) command.HandlerFunc {
	return func(ctx context.Context, msg *command.Message, args command.Args) (command.Reply, error) {
		taskID := args.Int("task_id")
		if taskID == 0 {
			return h.listPage(ctx, msg, command.StatusFilter{Status: status}, 0)
		}
		task, err := h.store.ChangeStatus(ctx, msg.ChatID, taskID, status, msg.UserID, "@"+msg.Username)
		if err != nil {
			return command.Reply{}, err
		}
		return command.Reply{Text: fmt.Sprintf("Title: %s\nStatus: %s\nAssignee: %s\nDescription:\n%s",
			task.Title, task.Status, task.Assignee, task.Description)}, nil
	}
}

func (h *Handlers) listTasks(ctx context.Context, msg *command.Message, args command.Args) (command.Reply, error) {
	return h.listPage(ctx, msg, args.StatusFilter("status"), int(args.Int("offset")))
}

func (h *Handlers) listPage(ctx context.Context, msg *command.Message, filter command.StatusFilter, offset int) (command.Reply, error) {
	storeFilter := tasks.Filter{Status: filter.Status}
	if filter.Mine {
		storeFilter.AssigneeID = strconv.FormatInt(msg.UserID, 10)
	}

	page, hasMore, err := h.store.List(ctx, msg.ChatID, storeFilter, offset, h.pageSize)
	if err != nil {
		return command.Reply{}, err
	}
	if len(page) == 0 {
		return command.Reply{Text: "No tasks found"}, nil
	}

	lines := make([]string, 0, len(page))
	for _, entry := range page {
		lines = append(lines, fmt.Sprintf("%d. %s %s - %s",
			entry.ID, entry.Task.Status, entry.Task.Title, preview(entry.Task.Description)))
	}
	reply := command.Reply{Text: strings.Join(lines, "\n")}
	if hasMore {
		reply.Keyboard = [][]command.Button{{
			{Label: "Next", Data: encodeListCallback(filter, offset+len(page), msg.UserID)},
		}}
	}
	return reply, nil
}

func preview(description string) string {
	runes := []rune(description)
	if len(runes) <= descPreviewLen {
		return description
	}
	return string(runes[:descPreviewLen]) + "…"
}

func (h *Handlers) showTask(ctx context.Context, msg *command.Message, args command.Args) (command.Reply, error) {
	taskID := args.Int("task_id")
	task, err := h.store.Get(ctx, msg.ChatID, taskID)
	if err != nil {
		return command.Reply{}, err
	}
	return command.Reply{Text: fmt.Sprintf(
		"Title: %s\nStatus: %s\nCreated: %s\nModified: %s\nAssignee: %s\nDescription:\n%s",
		task.Title, task.Status,
		formatTimestamp(task.Created), formatTimestamp(task.Modified),
		task.Assignee, task.Description)}, nil
}

func formatTimestamp(epochSeconds float64) string {
	return time.Unix(int64(epochSeconds), 0).UTC().Format("2006-01-02 15:04")
}

func (h *Handlers) updateTask(ctx context.Context, msg *command.Message, _ command.Args) (command.Reply, error) {
	body := commandBody(msg.Text)
	idLine, rest, _ := strings.Cut(body, "\n")
	taskID, err := strconv.ParseInt(strings.TrimSpace(idLine), 10, 64)
	if err != nil {
		return command.Reply{Text: "Required field \"task_id\" of int type"}, nil
	}
	title, description, _ := strings.Cut(rest, "\n")
	if strings.TrimSpace(title) == "" {
		return command.Reply{Text: "Send the new title on the line after the task id"}, nil
	}
	task, err := h.store.Update(ctx, msg.ChatID, taskID, title, strings.TrimSpace(description))
	if err != nil {
		return command.Reply{}, err
	}
	return command.Reply{Text: fmt.Sprintf("Updated task %d: %s", taskID, task.Title)}, nil
}

func (h *Handlers) exportTasks(ctx context.Context, msg *command.Message, _ command.Args) (command.Reply, error) {
	data, err := export.CSV(ctx, h.store, msg.ChatID)
	if err != nil {
		return command.Reply{}, err
	}
	return command.Reply{Document: &command.Document{
		Name: fmt.Sprintf("tasks-%d.csv", msg.ChatID),
		Data: data,
	}}, nil
}

func (h *Handlers) help(_ context.Context, _ *command.Message, _ command.Args) (command.Reply, error) {
	return command.Reply{Text: helpText}, nil
}
