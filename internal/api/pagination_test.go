package api

import (
	"context"
	"errors"
	"testing"
)

// pagedSource serves a fixed dataset in limit/offset pages and counts
// requests.
type pagedSource struct {
	items    []int
	requests int
}

func (s *pagedSource) page(_ context.Context, limit, offset int) ([]int, error) {
	s.requests++
	if offset >= len(s.items) {
		return nil, nil
	}
	end := min(offset+limit, len(s.items))
	return s.items[offset:end], nil
}

func makeItems(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return items
}

func TestFetchAll(t *testing.T) {
	tests := []struct {
		name         string
		total        int
		pageSize     int
		wantRequests int
	}{
		{name: "partial last page", total: 7, pageSize: 3, wantRequests: 3},
		{name: "single short page", total: 2, pageSize: 10, wantRequests: 1},
		{name: "empty dataset", total: 0, pageSize: 10, wantRequests: 1},
		// When the boundary lands exactly on a page boundary, one extra
		// empty request is the accepted cost of having no hasMore flag.
		{name: "exact multiple costs extra request", total: 6, pageSize: 3, wantRequests: 3},
		{name: "three full pages then short", total: 1620, pageSize: 500, wantRequests: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &pagedSource{items: makeItems(tt.total)}
			got, err := FetchAll(context.Background(), src.page, tt.pageSize)
			if err != nil {
				t.Fatalf("FetchAll() error = %v", err)
			}
			if len(got) != tt.total {
				t.Errorf("FetchAll() returned %d items, want %d", len(got), tt.total)
			}
			for i, v := range got {
				if v != i {
					t.Fatalf("FetchAll() item %d = %d, order not preserved", i, v)
				}
			}
			if src.requests != tt.wantRequests {
				t.Errorf("FetchAll() issued %d requests, want %d", src.requests, tt.wantRequests)
			}
		})
	}
}

func TestFetchAllAbortsOnPageError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	page := func(_ context.Context, limit, offset int) ([]int, error) {
		calls++
		if offset >= 4 {
			return nil, boom
		}
		return makeItems(limit), nil
	}

	got, err := FetchAll(context.Background(), page, 2)
	if !errors.Is(err, boom) {
		t.Fatalf("FetchAll() error = %v, want %v", err, boom)
	}
	// Partial results are never surfaced as if complete.
	if got != nil {
		t.Errorf("FetchAll() returned %d items after failure, want nil", len(got))
	}
	if calls != 3 {
		t.Errorf("FetchAll() issued %d requests, want 3", calls)
	}
}

func TestFetchAllProgressive(t *testing.T) {
	src := &pagedSource{items: makeItems(5)}

	type pageEvent struct {
		count  int
		done   bool
		failed bool
	}
	var events []pageEvent
	got, err := FetchAllProgressive(context.Background(), src.page, 2, func(items []int, done, failed bool) {
		events = append(events, pageEvent{count: len(items), done: done, failed: failed})
	})
	if err != nil {
		t.Fatalf("FetchAllProgressive() error = %v", err)
	}
	if len(got) != 5 {
		t.Errorf("FetchAllProgressive() returned %d items, want 5", len(got))
	}

	want := []pageEvent{{count: 2}, {count: 2}, {count: 1, done: true}}
	if len(events) != len(want) {
		t.Fatalf("got %d page events, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, e, want[i])
		}
	}
}

func TestFetchAllProgressiveReportsFailure(t *testing.T) {
	page := func(_ context.Context, _, _ int) ([]int, error) {
		return nil, errors.New("boom")
	}

	var failed bool
	_, err := FetchAllProgressive(context.Background(), page, 2, func(items []int, done, isErr bool) {
		failed = isErr
	})
	if err == nil {
		t.Fatal("FetchAllProgressive() error = nil, want error")
	}
	if !failed {
		t.Error("callback was not notified of the failure")
	}
}
