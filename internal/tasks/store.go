package tasks

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/basket/taskbot/internal/kv"
)

// DefaultPageSize is the listing page length when the caller does not care.
const DefaultPageSize = 10

// Store is the task data-access layer. All operations are scoped by chat id.
// Task ids are allocated from a per-chat counter via an atomic increment and
// are never reused. Mutations are plain read-modify-write: concurrent writers
// to the same task race and the last write wins, an accepted tradeoff.
type Store struct {
	kv *kv.Store
}

func NewStore(kvStore *kv.Store) *Store {
	return &Store{kv: kvStore}
}

func chatKey(chatID int64) string {
	return fmt.Sprintf("tasks/chat/%d", chatID)
}

func counterKey(chatID int64) string {
	return chatKey(chatID) + "/last_task_id"
}

// Entry pairs a task with the id it is stored under.
type Entry struct {
	ID   int64
	Task Task
}

// Filter narrows a listing. Zero values mean "no filter".
type Filter struct {
	Status     Status
	AssigneeID string
}

func (f Filter) match(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.AssigneeID != "" && t.AssigneeID != f.AssigneeID {
		return false
	}
	return true
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// normalizeTitle trims surrounding whitespace and upper-cases the first rune.
func normalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return title
	}
	r, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(r)) + title[size:]
}

// Create validates and normalizes the input, allocates the next task id for
// the chat, and writes the full record with status TODO and no assignee.
func (s *Store) Create(ctx context.Context, chatID int64, title, description string) (int64, error) {
	title = normalizeTitle(title)
	if title == "" {
		return 0, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return 0, &ValidationError{Field: "title", Reason: fmt.Sprintf("longer than %d characters", MaxTitleLen)}
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLen {
		return 0, &ValidationError{Field: "description", Reason: fmt.Sprintf("longer than %d characters", MaxDescriptionLen)}
	}

	taskID, err := s.kv.ScalarIncr(ctx, counterKey(chatID))
	if err != nil {
		return 0, err
	}

	ts := now()
	task := Task{
		Title:       title,
		Description: description,
		Status:      StatusTODO,
		Created:     ts,
		Modified:    ts,
	}
	if err := s.put(ctx, chatID, taskID, task); err != nil {
		return 0, err
	}
	return taskID, nil
}

// Get is a point lookup. Ids beyond the last-allocated counter and holes
// below it both report ErrNotFound.
func (s *Store) Get(ctx context.Context, chatID, taskID int64) (Task, error) {
	raw, err := s.kv.HashGet(ctx, chatKey(chatID), strconv.FormatInt(taskID, 10))
	if err != nil {
		return Task{}, err
	}
	if raw == nil {
		return Task{}, ErrNotFound
	}
	return Decode(raw)
}

// Update replaces the title and description of an existing task, bumping the
// modified timestamp and preserving status, assignment and creation time.
func (s *Store) Update(ctx context.Context, chatID, taskID int64, title, description string) (Task, error) {
	title = normalizeTitle(title)
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return Task{}, &ValidationError{Field: "title", Reason: fmt.Sprintf("longer than %d characters", MaxTitleLen)}
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLen {
		return Task{}, &ValidationError{Field: "description", Reason: fmt.Sprintf("longer than %d characters", MaxDescriptionLen)}
	}

	task, err := s.Get(ctx, chatID, taskID)
	if err != nil {
		return Task{}, err
	}
	task.Title = title
	task.Description = description
	task.Modified = now()
	if err := s.put(ctx, chatID, taskID, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// ChangeStatus moves a task to status and bumps its modified timestamp.
// Moving to TODO clears the assignment; any other status assigns the task to
// the acting user, overwriting a prior assignee.
func (s *Store) ChangeStatus(ctx context.Context, chatID, taskID int64, status Status, actorID int64, actorName string) (Task, error) {
	if !status.Valid() {
		return Task{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	task, err := s.Get(ctx, chatID, taskID)
	if err != nil {
		return Task{}, err
	}
	task.Status = status
	task.Modified = now()
	if status == StatusTODO {
		task.Assignee = ""
		task.AssigneeID = ""
	} else {
		task.Assignee = actorName
		task.AssigneeID = strconv.FormatInt(actorID, 10)
	}
	if err := s.put(ctx, chatID, taskID, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// List returns one page of tasks matching the filter, in descending id order,
// and whether a further page exists.
//
// There is no secondary index, so this is a reverse linear scan from the
// chat's last allocated id down toward 1. Holes and non-matching records are
// skipped without consuming the offset; the first offset matches are skipped
// without filling the page; the scan runs one match past limit solely to set
// hasMore, and that extra match is not returned. Worst case O(last id) when
// the filter is selective — accepted for the expected chat sizes.
func (s *Store) List(ctx context.Context, chatID int64, filter Filter, offset, limit int) ([]Entry, bool, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	last, err := s.lastTaskID(ctx, chatID)
	if err != nil {
		return nil, false, err
	}

	key := chatKey(chatID)
	var page []Entry
	skipped := 0
	for id := last; id >= 1; id-- {
		raw, err := s.kv.HashGet(ctx, key, strconv.FormatInt(id, 10))
		if err != nil {
			return nil, false, err
		}
		if raw == nil {
			continue // hole
		}
		task, err := Decode(raw)
		if err != nil {
			return nil, false, err
		}
		if !filter.match(task) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(page) == limit {
			return page, true, nil
		}
		page = append(page, Entry{ID: id, Task: task})
	}
	return page, false, nil
}

// ExportAll visits every task of the chat in unspecified order. It reports
// ErrEmpty when the chat has never allocated a task, and surfaces a
// *CodecError from fn's first malformed record.
func (s *Store) ExportAll(ctx context.Context, chatID int64, fn func(taskID int64, t Task) error) error {
	counter, err := s.kv.ScalarGet(ctx, counterKey(chatID))
	if err != nil {
		return err
	}
	if counter == nil {
		return ErrEmpty
	}

	return s.kv.HashScan(ctx, chatKey(chatID), func(field string, value []byte) error {
		taskID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return &CodecError{Err: fmt.Errorf("non-numeric task id %q", field)}
		}
		task, err := Decode(value)
		if err != nil {
			return err
		}
		return fn(taskID, task)
	})
}

func (s *Store) lastTaskID(ctx context.Context, chatID int64) (int64, error) {
	raw, err := s.kv.ScalarGet(ctx, counterKey(chatID))
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	last, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse last task id: %w", err)
	}
	return last, nil
}

func (s *Store) put(ctx context.Context, chatID, taskID int64, task Task) error {
	data, err := Encode(task)
	if err != nil {
		return err
	}
	return s.kv.HashSet(ctx, chatKey(chatID), strconv.FormatInt(taskID, 10), data)
}
