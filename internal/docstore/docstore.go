// Package docstore is a small hierarchical JSON document store on top of SQLite.
//
// Documents are addressed by slash-separated paths that alternate collection and
// document ids ("stores/{id}", "stores/{id}/shoppingList/current"). A document's
// parent is the collection path it lives in, which is what List and Query scan.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNotFound is returned by operations that require an existing document.
	ErrNotFound = errors.New("document not found")

	errBadField = errors.New("invalid field name")
)

// Op is a query filter operator.
type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
)

// Filter restricts a collection query to documents whose top-level field
// matches Value under Op.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Document is a raw stored document.
type Document struct {
	Path string
	Data json.RawMessage
}

// ID returns the last path segment.
func (d Document) ID() string {
	return pathID(d.Path)
}

// Decode unmarshals the document body into dst.
func (d Document) Decode(dst any) error {
	if err := json.Unmarshal(d.Data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", d.Path, err)
	}
	return nil
}

// Change describes a committed write to a single document.
type Change struct {
	Path    string
	Deleted bool
}

// Store is the contract the shopping services need from a document database.
type Store interface {
	Get(ctx context.Context, path string, dst any) (bool, error)
	Set(ctx context.Context, path string, v any) error
	SetAll(ctx context.Context, docs map[string]any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	ArrayUnion(ctx context.Context, path, field string, elems []any, fields map[string]any) error
	ArrayRemove(ctx context.Context, path, field string, elems []any, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	DeleteTree(ctx context.Context, path string) error
	List(ctx context.Context, collection string) ([]Document, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	RunTransaction(ctx context.Context, fn func(tx *Tx) error) error
	Watch(prefix string) (<-chan Change, func())
}

// Join builds a document path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func parentOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

func pathID(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

func validatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") || strings.Contains(path, "//") {
		return fmt.Errorf("invalid document path %q", path)
	}
	if strings.Count(path, "/")%2 == 0 {
		return fmt.Errorf("path %q names a collection, not a document", path)
	}
	return nil
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func jsonPath(field string) (string, error) {
	if !fieldPattern.MatchString(field) {
		return "", fmt.Errorf("%w: %q", errBadField, field)
	}
	return "$." + field, nil
}
