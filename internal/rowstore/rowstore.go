// Package rowstore adapts the external tabular persistence service: a
// sheet-like table where every participant owns exactly one row that is
// appended once and then overwritten with the full current snapshot.
package rowstore

import "context"

// SchemaVersion identifies the fixed column layout. Changing the layout
// requires bumping this and coordinating with downstream analysis.
const SchemaVersion = 1

// Questionnaire widths baked into the column layout.
const (
	PersonalityItemCount = 10
	EvaluationItemCount  = 11
)

// Columns is the authoritative column order of the study table. Snapshot
// construction and CSV export both derive from this slice, so the write path
// and the analysis path cannot drift apart.
var Columns = []string{
	"participant_id",
	"started_at",
	"condition",
	"age",
	"gender",
	"education",
	"employment",
	"attitude_problem",
	"attitude_welfare",
	"attitude_would_sign",
	"tipi_1", "tipi_2", "tipi_3", "tipi_4", "tipi_5",
	"tipi_6", "tipi_7", "tipi_8", "tipi_9", "tipi_10",
	"conversation_started_at",
	"conversation_ended_at",
	"conversation_seconds",
	"user_messages",
	"bot_messages",
	"transcript",
	"bus_1", "bus_2", "bus_3", "bus_4", "bus_5", "bus_6",
	"bus_7", "bus_8", "bus_9", "bus_10", "bus_11",
	"decision",
	"feedback_negative",
	"feedback_positive",
	"total_seconds",
}

// ColumnIndex returns the position of a named column, or -1.
func ColumnIndex(name string) int {
	for i, c := range Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// RowStore is the boundary to the tabular persistence service. AppendRow is
// called once per participant and returns a stable handle; OverwriteRow
// replaces the row at that handle with a fresh snapshot; ReadColumn returns
// one column for all existing rows, oldest first.
type RowStore interface {
	AppendRow(ctx context.Context, values []string) (int64, error)
	OverwriteRow(ctx context.Context, handle int64, values []string) error
	ReadColumn(ctx context.Context, column int) ([]string, error)
	ReadAll(ctx context.Context) ([][]string, error)
	Close() error
}
