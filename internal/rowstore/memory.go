package rowstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process RowStore used by tests and by local runs
// where losing data on restart is acceptable.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[int64][]string
	next int64

	// FailNext, when set, makes the next mutating call return that error
	// once. Lets tests exercise the persistence-failure paths.
	FailNext error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[int64][]string{}, next: 1}
}

func (m *MemoryStore) takeFailure() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

func (m *MemoryStore) AppendRow(_ context.Context, values []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	if len(values) != len(Columns) {
		return 0, fmt.Errorf("append row: got %d values, schema has %d columns", len(values), len(Columns))
	}
	handle := m.next
	m.next++
	m.rows[handle] = append([]string(nil), values...)
	return handle, nil
}

func (m *MemoryStore) OverwriteRow(_ context.Context, handle int64, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if _, ok := m.rows[handle]; !ok {
		return fmt.Errorf("overwrite row %d: no such row", handle)
	}
	if len(values) != len(Columns) {
		return fmt.Errorf("overwrite row: got %d values, schema has %d columns", len(values), len(Columns))
	}
	m.rows[handle] = append([]string(nil), values...)
	return nil
}

func (m *MemoryStore) ReadColumn(_ context.Context, column int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if column < 0 || column >= len(Columns) {
		return nil, fmt.Errorf("read column %d: out of schema range", column)
	}
	out := make([]string, 0, len(m.rows))
	for handle := int64(1); handle < m.next; handle++ {
		if row, ok := m.rows[handle]; ok {
			out = append(out, row[column])
		}
	}
	return out, nil
}

func (m *MemoryStore) ReadAll(_ context.Context) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, 0, len(m.rows))
	for handle := int64(1); handle < m.next; handle++ {
		if row, ok := m.rows[handle]; ok {
			out = append(out, append([]string(nil), row...))
		}
	}
	return out, nil
}

// Row returns a copy of the stored row, for assertions.
func (m *MemoryStore) Row(handle int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[handle]
	if !ok {
		return nil
	}
	return append([]string(nil), row...)
}

func (m *MemoryStore) Close() error { return nil }
