package api

import "context"

// PageFunc fetches one page of items at the given offset. An error aborts the
// whole fetch: the API has no "hasMore" flag, so a short page is the only
// end-of-data signal and partial results are never trustworthy.
type PageFunc[T any] func(ctx context.Context, limit, offset int) ([]T, error)

// PageCallback receives each page as it arrives. done is true on the final
// page; on error it is called once with failed=true and no items.
type PageCallback[T any] func(items []T, done bool, failed bool)

// FetchAll drains a page-limited endpoint into one slice. Pages are requested
// strictly in offset order, each only after the previous resolved. When the
// collection boundary coincides exactly with a page boundary, one extra empty
// page is fetched; accepted overhead.
func FetchAll[T any](ctx context.Context, page PageFunc[T], pageSize int) ([]T, error) {
	return FetchAllProgressive(ctx, page, pageSize, nil)
}

// FetchAllProgressive is FetchAll with a per-page callback for incremental
// consumers.
func FetchAllProgressive[T any](ctx context.Context, page PageFunc[T], pageSize int, onPage PageCallback[T]) ([]T, error) {
	var all []T
	for offset := 0; ; offset += pageSize {
		items, err := page(ctx, pageSize, offset)
		if err != nil {
			if onPage != nil {
				onPage(nil, false, true)
			}
			return nil, err
		}

		all = append(all, items...)
		done := len(items) < pageSize
		if onPage != nil {
			onPage(items, done, false)
		}
		if done {
			return all, nil
		}
	}
}
