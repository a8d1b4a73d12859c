// Package tasks holds the task data model and the chat-scoped data-access
// layer built on the kv adapter.
package tasks

import (
	"errors"
	"fmt"
)

// Status is the lifecycle stage of a task.
type Status string

const (
	StatusTODO Status = "TODO"
	StatusDO   Status = "DO" // in progress
	StatusDONE Status = "DONE"
)

// All enumerates the valid statuses in lifecycle order.
var All = []Status{StatusTODO, StatusDO, StatusDONE}

func (s Status) Valid() bool {
	switch s {
	case StatusTODO, StatusDO, StatusDONE:
		return true
	}
	return false
}

// Task is one unit of work, scoped to a chat. The task id is not part of the
// record: it is the hash field the record is stored under.
type Task struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      Status  `json:"status"`
	Created     float64 `json:"created"`
	Modified    float64 `json:"modified"`
	Assignee    string  `json:"assignee"`
	AssigneeID  string  `json:"assignee_id"`
}

const (
	MaxTitleLen       = 256
	MaxDescriptionLen = 2048
)

var (
	// ErrNotFound reports a task id with no stored record, including ids
	// beyond the chat's last-allocated counter and holes below it.
	ErrNotFound = errors.New("no task with such id")

	// ErrInvalidStatus reports a status outside the enumerated set. With
	// enum coercion upstream it marks a programming or data error.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrEmpty reports an export from a chat that has never allocated a task.
	ErrEmpty = errors.New("no tasks in this chat")
)

// ValidationError reports user input that exceeds the model bounds. No
// mutation is performed when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CodecError reports a stored record that could not be decoded. It fails the
// single operation that hit it; other tasks are unaffected.
type CodecError struct {
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("malformed task record: %v", e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }
