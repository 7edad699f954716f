package study

import (
	"bytes"
	"context"
	"encoding/csv"

	"github.com/kfilewski/conversbot/internal/rowstore"
)

// ExportCSV renders every persisted snapshot row as wide-format CSV, one
// participant per row, with the schema column names as the header.
func ExportCSV(ctx context.Context, store rowstore.RowStore) ([]byte, error) {
	rows, err := store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write(rowstore.Columns)
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
