package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dukerupert/aisle/internal/database"
)

const (
	watchBufferSize = 16
	// watchQueueLimit bounds the changes held for a watcher that is not
	// reading. Changes past it are dropped.
	watchQueueLimit = 4096
)

// SQLiteStore implements Store on the documents table.
type SQLiteStore struct {
	db *sql.DB

	mu       sync.Mutex
	watchers map[*watcher]struct{}
}

type watcher struct {
	prefix string
	ch     chan Change

	mu    sync.Mutex
	queue []Change
	wake  chan struct{}
	done  chan struct{}
}

// enqueue queues a commit's matching changes for delivery without blocking
// the writer.
func (w *watcher) enqueue(changes []Change) {
	w.mu.Lock()
	for _, c := range changes {
		if len(w.queue) < watchQueueLimit {
			w.queue = append(w.queue, c)
		}
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// run forwards queued changes to ch in commit order until done is closed,
// then closes ch.
func (w *watcher) run() {
	defer close(w.ch)
	for {
		select {
		case <-w.wake:
		case <-w.done:
			return
		}

		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, c := range batch {
			select {
			case w.ch <- c:
			case <-w.done:
				return
			}
		}
	}
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:       db,
		watchers: make(map[*watcher]struct{}),
	}
}

// Tx is a unit of work over several documents. Writes become visible to
// watchers only after the surrounding RunTransaction commits.
type Tx struct {
	ctx     context.Context
	tx      *sql.Tx
	changes []Change
}

func (t *Tx) getRaw(path string) ([]byte, bool, error) {
	var data string
	err := t.tx.QueryRowContext(t.ctx, `SELECT data FROM documents WHERE path = ?`, path).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get document %s: %w", path, err)
	}
	return []byte(data), true, nil
}

// Get decodes the document at path into dst and reports whether it exists.
func (t *Tx) Get(path string, dst any) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	data, ok, err := t.getRaw(path)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// Set replaces the document at path with v.
func (t *Tx) Set(path string, v any) error {
	if err := validatePath(path); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	_, err = t.tx.ExecContext(t.ctx,
		`INSERT INTO documents (path, parent, data) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
		path, parentOf(path), string(data),
	)
	if err != nil {
		return fmt.Errorf("set document %s: %w", path, err)
	}
	t.changes = append(t.changes, Change{Path: path})
	return nil
}

// Delete removes the document at path. Missing documents are not an error.
func (t *Tx) Delete(path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM documents WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		t.changes = append(t.changes, Change{Path: path, Deleted: true})
	}
	return nil
}

func (t *Tx) getFields(path string) (map[string]any, error) {
	data, ok, err := t.getRaw(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return fields, nil
}

// RunTransaction runs fn in a single SQL transaction and publishes the
// resulting changes once it commits.
func (s *SQLiteStore) RunTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return database.Unavailable(fmt.Errorf("begin tx: %w", err))
	}
	defer sqlTx.Rollback()

	tx := &Tx{ctx: ctx, tx: sqlTx}
	if err := fn(tx); err != nil {
		return database.Unavailable(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return database.Unavailable(fmt.Errorf("commit: %w", err))
	}
	s.notify(tx.changes)
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, path string, dst any) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, database.Unavailable(fmt.Errorf("get document %s: %w", path, err))
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, path string, v any) error {
	return s.RunTransaction(ctx, func(tx *Tx) error {
		return tx.Set(path, v)
	})
}

// SetAll writes several documents atomically.
func (s *SQLiteStore) SetAll(ctx context.Context, docs map[string]any) error {
	return s.RunTransaction(ctx, func(tx *Tx) error {
		for path, v := range docs {
			if err := tx.Set(path, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update merges top-level fields into an existing document.
func (s *SQLiteStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.RunTransaction(ctx, func(tx *Tx) error {
		doc, err := tx.getFields(path)
		if err != nil {
			return err
		}
		for k, v := range fields {
			doc[k] = v
		}
		return tx.Set(path, doc)
	})
}

// ArrayUnion appends each element of elems that is not already present in the
// array field, and merges fields, in one transaction.
func (s *SQLiteStore) ArrayUnion(ctx context.Context, path, field string, elems []any, fields map[string]any) error {
	return s.modifyArray(ctx, path, field, fields, func(arr []any) ([]any, error) {
		for _, e := range elems {
			ne, err := normalize(e)
			if err != nil {
				return nil, err
			}
			if indexOf(arr, ne) < 0 {
				arr = append(arr, ne)
			}
		}
		return arr, nil
	})
}

// ArrayRemove removes every occurrence of each element of elems from the array
// field, and merges fields, in one transaction.
func (s *SQLiteStore) ArrayRemove(ctx context.Context, path, field string, elems []any, fields map[string]any) error {
	return s.modifyArray(ctx, path, field, fields, func(arr []any) ([]any, error) {
		for _, e := range elems {
			ne, err := normalize(e)
			if err != nil {
				return nil, err
			}
			for i := indexOf(arr, ne); i >= 0; i = indexOf(arr, ne) {
				arr = append(arr[:i], arr[i+1:]...)
			}
		}
		return arr, nil
	})
}

func (s *SQLiteStore) modifyArray(ctx context.Context, path, field string, fields map[string]any, fn func([]any) ([]any, error)) error {
	if _, err := jsonPath(field); err != nil {
		return err
	}
	return s.RunTransaction(ctx, func(tx *Tx) error {
		doc, err := tx.getFields(path)
		if err != nil {
			return err
		}
		arr, _ := doc[field].([]any)
		arr, err = fn(arr)
		if err != nil {
			return err
		}
		if arr == nil {
			arr = []any{}
		}
		doc[field] = arr
		for k, v := range fields {
			doc[k] = v
		}
		return tx.Set(path, doc)
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	return s.RunTransaction(ctx, func(tx *Tx) error {
		return tx.Delete(path)
	})
}

// DeleteTree removes the document at path and every document nested under it.
func (s *SQLiteStore) DeleteTree(ctx context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	return s.RunTransaction(ctx, func(tx *Tx) error {
		rows, err := tx.tx.QueryContext(ctx,
			`SELECT path FROM documents WHERE path = ? OR path LIKE ? ESCAPE '\'`,
			path, escapeLike(path)+"/%",
		)
		if err != nil {
			return fmt.Errorf("list tree %s: %w", path, err)
		}
		var paths []string
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return fmt.Errorf("scan path: %w", err)
			}
			paths = append(paths, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, p := range paths {
			if err := tx.Delete(p); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns every document directly inside collection, oldest first.
func (s *SQLiteStore) List(ctx context.Context, collection string) ([]Document, error) {
	return s.Query(ctx, collection)
}

// Query returns documents directly inside collection that match all filters.
func (s *SQLiteStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	where := []string{"parent = ?"}
	args := []any{collection}
	for _, f := range filters {
		jp, err := jsonPath(f.Field)
		if err != nil {
			return nil, err
		}
		switch f.Op {
		case OpEqual:
			where = append(where, "json_extract(data, '"+jp+"') = ?")
		case OpArrayContains:
			where = append(where, "EXISTS (SELECT 1 FROM json_each(data, '"+jp+"') WHERE json_each.value = ?)")
		default:
			return nil, fmt.Errorf("unsupported operator %q", f.Op)
		}
		args = append(args, f.Value)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, data FROM documents WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at ASC, rowid ASC`,
		args...,
	)
	if err != nil {
		return nil, database.Unavailable(fmt.Errorf("query %s: %w", collection, err))
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var data string
		if err := rows.Scan(&d.Path, &data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Data = json.RawMessage(data)
		docs = append(docs, d)
	}
	return docs, database.Unavailable(rows.Err())
}

// Ping reports model.ErrBackendUnavailable when the database cannot be reached.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return database.Ping(ctx, s.db)
}

// Watch subscribes to changes of the document at prefix and everything below
// it. Every change of a commit is delivered in order; only a receiver that
// falls more than watchQueueLimit changes behind misses any. The channel is
// closed after cancel.
func (s *SQLiteStore) Watch(prefix string) (<-chan Change, func()) {
	w := &watcher{
		prefix: prefix,
		ch:     make(chan Change, watchBufferSize),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.run()

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, w)
			s.mu.Unlock()
			close(w.done)
		})
	}
	return w.ch, cancel
}

func (s *SQLiteStore) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for w := range s.watchers {
		var matched []Change
		for _, c := range changes {
			if c.Path == w.prefix || strings.HasPrefix(c.Path, w.prefix+"/") {
				matched = append(matched, c)
			}
		}
		if len(matched) > 0 {
			w.enqueue(matched)
		}
	}
}

// normalize round-trips v through JSON so that structs and decoded maps
// compare equal when they encode the same value.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode array element: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode array element: %w", err)
	}
	return out, nil
}

func indexOf(arr []any, v any) int {
	want, _ := json.Marshal(v)
	for i, e := range arr {
		got, _ := json.Marshal(e)
		if bytes.Equal(got, want) {
			return i
		}
	}
	return -1
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
