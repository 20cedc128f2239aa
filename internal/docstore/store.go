// Package docstore is a collection-scoped document store. Documents are JSON
// objects addressed by a collection path and a document id.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrUnavailable  = errors.New("document store unavailable")
	ErrInvalidPath  = errors.New("invalid collection path")
	ErrInvalidDocID = errors.New("invalid document id")
)

// Path is a slash separated collection path such as "users/42/todolist".
type Path string

// Collection joins path segments. Segments must be non-empty and must not
// contain a slash.
func Collection(segments ...string) (Path, error) {
	if len(segments) == 0 {
		return "", ErrInvalidPath
	}
	for _, s := range segments {
		if s == "" || strings.Contains(s, "/") {
			return "", fmt.Errorf("%w: segment %q", ErrInvalidPath, s)
		}
	}
	return Path(strings.Join(segments, "/")), nil
}

func (p Path) String() string {
	return string(p)
}

// Document is a stored JSON object. CreateTime is assigned by the store when
// the document is first written and is never changed afterwards.
type Document struct {
	ID         string
	Data       json.RawMessage
	CreateTime time.Time
	UpdateTime time.Time
}

// Client is the store contract used by repositories.
//
// Set creates or overwrites a document. Update overwrites an existing document
// and fails with ErrNotFound when it does not exist. Delete succeeds whether or
// not the document exists. Query returns documents ordered by id.
type Client interface {
	Get(ctx context.Context, collection Path, id string) (*Document, error)
	Set(ctx context.Context, collection Path, id string, data json.RawMessage) error
	Update(ctx context.Context, collection Path, id string, data json.RawMessage) error
	Delete(ctx context.Context, collection Path, id string) error
	Query(ctx context.Context, collection Path, filters ...Filter) ([]Document, error)
}

// HealthChecker is implemented by stores that can report connectivity.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Filter is an equality condition on a top-level field of the document.
type Filter struct {
	Field string
	Value interface{}
}

func Equal(field string, value interface{}) Filter {
	return Filter{Field: field, Value: value}
}

// Match reports whether data satisfies every filter. Values are compared
// after a JSON round trip so that Go values match their stored form.
func Match(data json.RawMessage, filters []Filter) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return false, fmt.Errorf("failed to decode document: %w", err)
	}

	for _, f := range filters {
		want, err := normalize(f.Value)
		if err != nil {
			return false, err
		}
		got, ok := fields[f.Field]
		if !ok || !reflect.DeepEqual(got, want) {
			return false, nil
		}
	}
	return true, nil
}

func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter value: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode filter value: %w", err)
	}
	return out, nil
}

func validateKey(collection Path, id string) error {
	if collection == "" {
		return ErrInvalidPath
	}
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidDocID, id)
	}
	return nil
}

func validateData(data json.RawMessage) error {
	if !json.Valid(data) {
		return errors.New("document data must be valid JSON")
	}
	return nil
}
