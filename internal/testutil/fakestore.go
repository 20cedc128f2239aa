// Package testutil provides testing utilities.
package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"taskboard/backend/internal/docstore"
)

// FakeStore is an in-memory docstore.Client for testing.
type FakeStore struct {
	mu   sync.RWMutex
	docs map[docstore.Path]map[string]docstore.Document
	now  func() time.Time

	// Error injection for testing
	GetErr    error
	SetErr    error
	UpdateErr error
	DeleteErr error
	QueryErr  error

	// BeforeQuery runs at the start of every Query, outside the lock.
	BeforeQuery func()

	Calls map[string]int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		docs:  make(map[docstore.Path]map[string]docstore.Document),
		now:   time.Now,
		Calls: make(map[string]int),
	}
}

// SetClock replaces the clock used for create and update times.
func (f *FakeStore) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Put stores raw data directly, bypassing error injection.
func (f *FakeStore) Put(collection docstore.Path, id string, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(collection, id, json.RawMessage(data))
}

// Len returns the number of documents in a collection.
func (f *FakeStore) Len(collection docstore.Path) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.docs[collection])
}

// CallCount returns how many times an operation was called.
func (f *FakeStore) CallCount(op string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.Calls[op]
}

func (f *FakeStore) put(collection docstore.Path, id string, data json.RawMessage) {
	now := f.now()
	col, ok := f.docs[collection]
	if !ok {
		col = make(map[string]docstore.Document)
		f.docs[collection] = col
	}
	doc, exists := col[id]
	if !exists {
		doc = docstore.Document{ID: id, CreateTime: now}
	}
	doc.Data = append(json.RawMessage(nil), data...)
	doc.UpdateTime = now
	col[id] = doc
}

// Get implements docstore.Client.
func (f *FakeStore) Get(ctx context.Context, collection docstore.Path, id string) (*docstore.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["get"]++
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	doc, ok := f.docs[collection][id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return &doc, nil
}

// Set implements docstore.Client.
func (f *FakeStore) Set(ctx context.Context, collection docstore.Path, id string, data json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["set"]++
	if f.SetErr != nil {
		return f.SetErr
	}
	f.put(collection, id, data)
	return nil
}

// Update implements docstore.Client.
func (f *FakeStore) Update(ctx context.Context, collection docstore.Path, id string, data json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["update"]++
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	if _, ok := f.docs[collection][id]; !ok {
		return docstore.ErrNotFound
	}
	f.put(collection, id, data)
	return nil
}

// Delete implements docstore.Client.
func (f *FakeStore) Delete(ctx context.Context, collection docstore.Path, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["delete"]++
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.docs[collection], id)
	return nil
}

// Query implements docstore.Client.
func (f *FakeStore) Query(ctx context.Context, collection docstore.Path, filters ...docstore.Filter) ([]docstore.Document, error) {
	if f.BeforeQuery != nil {
		f.BeforeQuery()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["query"]++
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}

	col := f.docs[collection]
	ids := make([]string, 0, len(col))
	for id := range col {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		ok, err := docstore.Match(col[id].Data, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, col[id])
		}
	}
	return result, nil
}
