package command_test

import (
	"strings"
	"testing"

	"github.com/basket/taskbot/internal/command"
	"github.com/basket/taskbot/internal/tasks"
)

func TestParse_BindsPositionalTokens(t *testing.T) {
	params := []command.Param{
		{Name: "task_id", Type: "int", Coerce: command.Int, Required: true},
		{Name: "note", Type: "string", Coerce: command.String, Default: ""},
	}

	args, err := command.Parse("/do 7 urgent", params)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := args.Int("task_id"); got != 7 {
		t.Fatalf("task_id = %d, want 7", got)
	}
	if got := args.String("note"); got != "urgent" {
		t.Fatalf("note = %q, want \"urgent\"", got)
	}
}

func TestParse_RequiredFieldMissing(t *testing.T) {
	params := []command.Param{
		{Name: "task_id", Type: "int", Coerce: command.Int, Required: true},
	}

	_, err := command.Parse("/task", params)
	if err == nil {
		t.Fatalf("expected a usage error")
	}
	if !strings.Contains(err.Error(), `"task_id"`) || !strings.Contains(err.Error(), "int") {
		t.Fatalf("error %q should name the field and its type", err)
	}
}

func TestParse_OptionalDefaultApplied(t *testing.T) {
	params := []command.Param{
		{Name: "status", Type: "status", Coerce: command.StatusEnum, Default: command.StatusFilter{}},
		{Name: "offset", Type: "int", Coerce: command.Int, Default: int64(0)},
	}

	args, err := command.Parse("/tasks", params)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := args.StatusFilter("status"); got != (command.StatusFilter{}) {
		t.Fatalf("status default = %+v, want zero filter", got)
	}
	if got := args.Int("offset"); got != 0 {
		t.Fatalf("offset default = %d, want 0", got)
	}
}

func TestParse_CoercionFailure(t *testing.T) {
	params := []command.Param{
		{Name: "task_id", Type: "int", Coerce: command.Int, Required: true},
	}

	for _, token := range []string{"abc", "1a", "-1a", "1.5"} {
		_, err := command.Parse("/do "+token, params)
		if err == nil {
			t.Fatalf("token %q should fail coercion", token)
		}
		if !strings.Contains(err.Error(), `"task_id"`) {
			t.Fatalf("error %q should name the field", err)
		}
	}
}

func TestStatusEnum(t *testing.T) {
	cases := []struct {
		token string
		want  command.StatusFilter
	}{
		{token: "todo", want: command.StatusFilter{Status: tasks.StatusTODO}},
		{token: "TODO", want: command.StatusFilter{Status: tasks.StatusTODO}},
		{token: "Do", want: command.StatusFilter{Status: tasks.StatusDO}},
		{token: "done", want: command.StatusFilter{Status: tasks.StatusDONE}},
		{token: "all", want: command.StatusFilter{}},
		{token: "ALL", want: command.StatusFilter{}},
		{token: "me", want: command.StatusFilter{Mine: true}},
	}
	for _, tc := range cases {
		got, err := command.StatusEnum(tc.token)
		if err != nil {
			t.Fatalf("StatusEnum(%q): %v", tc.token, err)
		}
		if got != tc.want {
			t.Fatalf("StatusEnum(%q) = %+v, want %+v", tc.token, got, tc.want)
		}
	}

	for _, token := range []string{"", "waiting", "don", "todoo"} {
		if _, err := command.StatusEnum(token); err == nil {
			t.Fatalf("StatusEnum(%q) should fail", token)
		}
	}
}
