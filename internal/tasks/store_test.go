package tasks_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/taskbot/internal/kv"
	"github.com/basket/taskbot/internal/tasks"
)

func openTestStores(t *testing.T) (*tasks.Store, *kv.Store) {
	t.Helper()
	kvStore, err := kv.Open(filepath.Join(t.TempDir(), "taskbot.db"))
	if err != nil {
		t.Fatalf("open kv store: %v", err)
	}
	t.Cleanup(func() {
		_ = kvStore.Close()
	})
	return tasks.NewStore(kvStore), kvStore
}

func mustCreate(t *testing.T, store *tasks.Store, chatID int64, title string) int64 {
	t.Helper()
	id, err := store.Create(context.Background(), chatID, title, "")
	if err != nil {
		t.Fatalf("create %q: %v", title, err)
	}
	return id
}

func TestCreate_AllocatesSequentialIDs(t *testing.T) {
	store, _ := openTestStores(t)

	for want := int64(1); want <= 5; want++ {
		got := mustCreate(t, store, 7, "task")
		if got != want {
			t.Fatalf("allocated id = %d, want %d", got, want)
		}
	}

	// A second chat starts its own sequence.
	if got := mustCreate(t, store, 8, "task"); got != 1 {
		t.Fatalf("other chat id = %d, want 1", got)
	}
}

func TestCreate_NormalizesAndInitializes(t *testing.T) {
	store, _ := openTestStores(t)
	ctx := context.Background()

	id, err := store.Create(ctx, 1, "  fix the build  ", "it broke")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	task, err := store.Get(ctx, 1, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Title != "Fix the build" {
		t.Fatalf("title = %q, want trimmed and capitalized", task.Title)
	}
	if task.Status != tasks.StatusTODO {
		t.Fatalf("status = %q, want TODO", task.Status)
	}
	if task.Assignee != "" || task.AssigneeID != "" {
		t.Fatalf("new task should be unassigned, got %q/%q", task.Assignee, task.AssigneeID)
	}
	if task.Created == 0 || task.Created != task.Modified {
		t.Fatalf("timestamps not initialized: created=%v modified=%v", task.Created, task.Modified)
	}
}

func TestCreate_Validation(t *testing.T) {
	store, _ := openTestStores(t)
	ctx := context.Background()

	cases := []struct {
		name        string
		title       string
		description string
	}{
		{name: "empty title", title: "   "},
		{name: "long title", title: strings.Repeat("x", 257)},
		{name: "long description", title: "ok", description: strings.Repeat("x", 2049)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Create(ctx, 1, tc.title, tc.description)
			var validationErr *tasks.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("create error = %v, want *ValidationError", err)
			}
		})
	}

	// Failed validation must not consume an id.
	if id := mustCreate(t, store, 1, "real task"); id != 1 {
		t.Fatalf("first valid task got id %d, want 1", id)
	}
}

func TestGet_MissingID(t *testing.T) {
	store, _ := openTestStores(t)

	for i := 0; i < 3; i++ {
		mustCreate(t, store, 1, "task")
	}
	_, err := store.Get(context.Background(), 1, 999)
	if !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("get missing = %v, want ErrNotFound", err)
	}
}

func TestUpdate_PreservesStatusAndCreation(t *testing.T) {
	store, _ := openTestStores(t)
	ctx := context.Background()

	id := mustCreate(t, store, 1, "old title")
	if _, err := store.ChangeStatus(ctx, 1, id, tasks.StatusDO, 42, "@alice"); err != nil {
		t.Fatalf("change status: %v", err)
	}
	before, err := store.Get(ctx, 1, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	updated, err := store.Update(ctx, 1, id, "new title", "new description")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "New title" || updated.Description != "new description" {
		t.Fatalf("content not replaced: %+v", updated)
	}
	if updated.Status != tasks.StatusDO || updated.Assignee != "@alice" {
		t.Fatalf("status/assignment not preserved: %+v", updated)
	}
	if updated.Created != before.Created {
		t.Fatalf("created changed: %v -> %v", before.Created, updated.Created)
	}
	if updated.Modified < before.Modified {
		t.Fatalf("modified went backwards: %v -> %v", before.Modified, updated.Modified)
	}
}

func TestUpdate_MissingID(t *testing.T) {
	store, _ := openTestStores(t)

	_, err := store.Update(context.Background(), 1, 1, "title", "")
	if !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("update missing = %v, want ErrNotFound", err)
	}
}

func TestChangeStatus_AssignmentCoupling(t *testing.T) {
	store, _ := openTestStores(t)
	ctx := context.Background()

	id := mustCreate(t, store, 1, "task")

	task, err := store.ChangeStatus(ctx, 1, id, tasks.StatusDO, 42, "@alice")
	if err != nil {
		t.Fatalf("to DO: %v", err)
	}
	if task.AssigneeID != "42" || task.Assignee != "@alice" {
		t.Fatalf("DO should assign the actor, got %q/%q", task.Assignee, task.AssigneeID)
	}

	// Another actor progressing the task re-claims it.
	task, err = store.ChangeStatus(ctx, 1, id, tasks.StatusDONE, 43, "@bob")
	if err != nil {
		t.Fatalf("to DONE: %v", err)
	}
	if task.AssigneeID != "43" || task.Assignee != "@bob" {
		t.Fatalf("DONE should re-assign the actor, got %q/%q", task.Assignee, task.AssigneeID)
	}

	task, err = store.ChangeStatus(ctx, 1, id, tasks.StatusTODO, 44, "@carol")
	if err != nil {
		t.Fatalf("to TODO: %v", err)
	}
	if task.Assignee != "" || task.AssigneeID != "" {
		t.Fatalf("TODO should clear assignment, got %q/%q", task.Assignee, task.AssigneeID)
	}
}

func TestChangeStatus_InvalidStatus(t *testing.T) {
	store, _ := openTestStores(t)

	id := mustCreate(t, store, 1, "task")
	_, err := store.ChangeStatus(context.Background(), 1, id, "WAITING", 42, "@alice")
	if !errors.Is(err, tasks.ErrInvalidStatus) {
		t.Fatalf("change status = %v, want ErrInvalidStatus", err)
	}
}

func TestChangeStatus_MissingID(t *testing.T) {
	store, _ := openTestStores(t)

	_, err := store.ChangeStatus(context.Background(), 1, 5, tasks.StatusDO, 42, "@alice")
	if !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("change status = %v, want ErrNotFound", err)
	}
}

func TestList_PaginationBoundary(t *testing.T) {
	store, _ := openTestStores(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		mustCreate(t, store, 1, "task")
	}

	page, hasMore, err := store.List(ctx, 1, tasks.Filter{Status: tasks.StatusTODO}, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !hasMore {
		t.Fatalf("first page should report more")
	}
	wantIDs := []int64{12, 11, 10, 9, 8, 7, 6, 5, 4, 3}
	assertPageIDs(t, page, wantIDs)

	page, hasMore, err = store.List(ctx, 1, tasks.Filter{Status: tasks.StatusTODO}, 10, 10)
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if hasMore {
		t.Fatalf("last page should not report more")
	}
	assertPageIDs(t, page, []int64{2, 1})
}

func TestList_StatusFilter(t *testing.T) {
	store, _ := openTestStores(t)
	ctx := context.Background()

	statuses := []tasks.Status{
		tasks.StatusTODO, tasks.StatusDONE, tasks.StatusDO,
		tasks.StatusDONE, tasks.StatusTODO, tasks.StatusDONE,
	}
	for i, status := range statuses {
		id := mustCreate(t, store, 1, "task")
		if status != tasks.StatusTODO {
			if _, err := store.ChangeStatus(ctx, 1, id, status, int64(100+i), "@user"); err != nil {
				t.Fatalf("change status: %v", err)
			}
		}
	}

	page, hasMore, err := store.List(ctx, 1, tasks.Filter{Status: tasks.StatusDONE}, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if hasMore {
		t.Fatalf("unexpected has_more")
	}
	assertPageIDs(t, page, []int64{6, 4, 2})
	for _, entry := range page {
		if entry.Task.Status != tasks.StatusDONE {
			t.Fatalf("task %d has status %q, want DONE", entry.ID, entry.Task.Status)
		}
	}
}

func TestList_AssigneeFilter(t *testing.T) {
	store, _ := openTestStores(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		mustCreate(t, store, 1, "task")
	}
	if _, err := store.ChangeStatus(ctx, 1, 1, tasks.StatusDO, 42, "@alice"); err != nil {
		t.Fatalf("change status: %v", err)
	}
	if _, err := store.ChangeStatus(ctx, 1, 3, tasks.StatusDO, 43, "@bob"); err != nil {
		t.Fatalf("change status: %v", err)
	}

	page, _, err := store.List(ctx, 1, tasks.Filter{AssigneeID: "42"}, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	assertPageIDs(t, page, []int64{1})
}

func TestList_SkipsHoles(t *testing.T) {
	store, kvStore := openTestStores(t)
	ctx := context.Background()

	mustCreate(t, store, 1, "task one")
	// Simulate a skipped write: the counter moves but no record lands.
	if _, err := kvStore.ScalarIncr(ctx, "tasks/chat/1/last_task_id"); err != nil {
		t.Fatalf("incr: %v", err)
	}
	mustCreate(t, store, 1, "task three")

	page, hasMore, err := store.List(ctx, 1, tasks.Filter{}, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if hasMore {
		t.Fatalf("unexpected has_more")
	}
	assertPageIDs(t, page, []int64{3, 1})

	if _, err := store.Get(ctx, 1, 2); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("hole lookup = %v, want ErrNotFound", err)
	}
}

func TestList_OffsetCountsMatchesOnly(t *testing.T) {
	store, _ := openTestStores(t)
	ctx := context.Background()

	// Six tasks, every second one DONE: ids 2, 4, 6.
	for i := 1; i <= 6; i++ {
		id := mustCreate(t, store, 1, "task")
		if i%2 == 0 {
			if _, err := store.ChangeStatus(ctx, 1, id, tasks.StatusDONE, 42, "@alice"); err != nil {
				t.Fatalf("change status: %v", err)
			}
		}
	}

	// Offset 1 in match units skips only the newest DONE task.
	page, hasMore, err := store.List(ctx, 1, tasks.Filter{Status: tasks.StatusDONE}, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if hasMore {
		t.Fatalf("unexpected has_more")
	}
	assertPageIDs(t, page, []int64{4, 2})
}

func TestList_EmptyChat(t *testing.T) {
	store, _ := openTestStores(t)

	page, hasMore, err := store.List(context.Background(), 99, tasks.Filter{}, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 0 || hasMore {
		t.Fatalf("empty chat listed %d tasks, has_more=%v", len(page), hasMore)
	}
}

func TestExportAll_VisitsEverything(t *testing.T) {
	store, _ := openTestStores(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		mustCreate(t, store, 1, "task")
	}

	seen := make(map[int64]tasks.Task)
	err := store.ExportAll(ctx, 1, func(taskID int64, task tasks.Task) error {
		seen[taskID] = task
		return nil
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(seen) != 4 {
		t.Fatalf("exported %d tasks, want 4", len(seen))
	}
}

func TestExportAll_EmptyChat(t *testing.T) {
	store, _ := openTestStores(t)

	err := store.ExportAll(context.Background(), 1, func(int64, tasks.Task) error {
		t.Fatal("callback must not run for an empty chat")
		return nil
	})
	if !errors.Is(err, tasks.ErrEmpty) {
		t.Fatalf("export = %v, want ErrEmpty", err)
	}
}

func TestExportAll_MalformedRecord(t *testing.T) {
	store, kvStore := openTestStores(t)
	ctx := context.Background()

	mustCreate(t, store, 1, "good task")
	if err := kvStore.HashSet(ctx, "tasks/chat/1", "999", []byte("not-json")); err != nil {
		t.Fatalf("plant malformed record: %v", err)
	}

	err := store.ExportAll(ctx, 1, func(int64, tasks.Task) error { return nil })
	var codecErr *tasks.CodecError
	if !errors.As(err, &codecErr) {
		t.Fatalf("export = %v, want *CodecError", err)
	}
}

func assertPageIDs(t *testing.T, page []tasks.Entry, want []int64) {
	t.Helper()
	if len(page) != len(want) {
		t.Fatalf("page has %d entries, want %d", len(page), len(want))
	}
	for i, entry := range page {
		if entry.ID != want[i] {
			t.Fatalf("page[%d].ID = %d, want %d (page order must be descending)", i, entry.ID, want[i])
		}
	}
}
