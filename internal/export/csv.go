// Package export renders a chat's full task set as CSV for document upload.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/basket/taskbot/internal/tasks"
)

// CSV scans every task in the chat and emits a header row followed by one
// row per task. Columns are the sorted union of the record fields plus
// task_id. A malformed record aborts the export with the store's codec error.
func CSV(ctx context.Context, store *tasks.Store, chatID int64) ([]byte, error) {
	type row struct {
		id     int64
		fields map[string]any
	}

	var rows []row
	columns := map[string]struct{}{"task_id": {}}
	err := store.ExportAll(ctx, chatID, func(taskID int64, t tasks.Task) error {
		encoded, err := tasks.Encode(t)
		if err != nil {
			return err
		}
		fields := make(map[string]any)
		if err := json.Unmarshal(encoded, &fields); err != nil {
			return fmt.Errorf("flatten task %d: %w", taskID, err)
		}
		for name := range fields {
			columns[name] = struct{}{}
		}
		rows = append(rows, row{id: taskID, fields: fields})
		return nil
	})
	if err != nil {
		return nil, err
	}

	header := make([]string, 0, len(columns))
	for name := range columns {
		header = append(header, name)
	}
	sort.Strings(header)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		record := make([]string, len(header))
		for i, name := range header {
			if name == "task_id" {
				record[i] = strconv.FormatInt(r.id, 10)
				continue
			}
			if v, ok := r.fields[name]; ok {
				record[i] = formatValue(v)
			}
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
