package redmap

import (
	"context"
	"time"

	"github.com/kailas-cloud/redmap/internal/db"
	"github.com/kailas-cloud/redmap/internal/metrics"
)

// searchBatchSize is the page size used when All walks an unbounded result.
const searchBatchSize = 100

// Finder accumulates sort and pagination directives for one query and
// executes it against the repository's index.
type Finder[T any] struct {
	repo *Repository[T]

	root     Node
	sortBy   string
	sortDesc bool
	hasSort  bool
	offset   int
	limit    int
	hasPage  bool
}

// SortBy sorts results ascending by the given field path.
func (f *Finder[T]) SortBy(path string) *Finder[T] {
	f.sortBy = path
	f.sortDesc = false
	f.hasSort = true
	return f
}

// SortByDesc sorts results descending by the given field path.
func (f *Finder[T]) SortByDesc(path string) *Finder[T] {
	f.sortBy = path
	f.sortDesc = true
	f.hasSort = true
	return f
}

// Page selects an explicit result window.
func (f *Finder[T]) Page(offset, limit int) *Finder[T] {
	f.offset = offset
	f.limit = limit
	f.hasPage = true
	return f
}

// Limit bounds the result to the first n documents.
func (f *Finder[T]) Limit(n int) *Finder[T] {
	return f.Page(0, n)
}

// Statement resolves the query without executing it. Useful for logging
// and for running the query through other transports.
func (f *Finder[T]) Statement() (*Statement, error) {
	opts := make([]ResolveOption, 0, 2)
	if f.hasSort {
		opts = append(opts, WithSortBy(f.sortBy, f.sortDesc))
	}
	if f.hasPage {
		opts = append(opts, WithPage(f.offset, f.limit))
	}
	return f.repo.schema.Resolve(f.root, opts...)
}

// All executes the query and returns every matching model. Without an
// explicit Page the full result is collected in index batches.
func (f *Finder[T]) All(ctx context.Context) ([]*T, error) {
	start := time.Now()
	ms, err := f.all(ctx)
	metrics.ObserveOperation(f.repo.schema.Name(), "find", start, err)
	return ms, err
}

func (f *Finder[T]) all(ctx context.Context) ([]*T, error) {
	st, err := f.Statement()
	if err != nil {
		return nil, err
	}

	if f.hasPage {
		ms, _, err := f.page(ctx, st, st.Offset, st.Limit)
		return ms, err
	}

	var out []*T
	for offset := 0; ; offset += searchBatchSize {
		ms, total, err := f.page(ctx, st, offset, searchBatchSize)
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
		if len(ms) == 0 || len(out) >= total {
			return out, nil
		}
	}
}

// First executes the query and returns the first matching model.
// Returns ErrNotFound when nothing matches.
func (f *Finder[T]) First(ctx context.Context) (*T, error) {
	start := time.Now()
	m, err := f.first(ctx)
	metrics.ObserveOperation(f.repo.schema.Name(), "find_first", start, err)
	return m, err
}

func (f *Finder[T]) first(ctx context.Context) (*T, error) {
	st, err := f.Statement()
	if err != nil {
		return nil, err
	}
	ms, _, err := f.page(ctx, st, st.Offset, 1)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, ErrNotFound
	}
	return ms[0], nil
}

// Count returns the number of matching documents without fetching them.
func (f *Finder[T]) Count(ctx context.Context) (int, error) {
	start := time.Now()
	st, err := f.Statement()
	if err != nil {
		metrics.ObserveOperation(f.repo.schema.Name(), "count", start, err)
		return 0, err
	}
	n, err := f.repo.client.store.SearchCount(ctx, f.repo.indexName, st.Query)
	metrics.ObserveOperation(f.repo.schema.Name(), "count", start, err)
	return n, err
}

// page runs one FT.SEARCH window and decodes its entries.
func (f *Finder[T]) page(ctx context.Context, st *Statement, offset, limit int) ([]*T, int, error) {
	res, err := f.repo.client.store.Search(ctx, &db.SearchQuery{
		IndexName: f.repo.indexName,
		Query:     st.Query,
		Params:    st.Params,
		SortBy:    st.SortBy,
		SortDesc:  st.SortDesc,
		Offset:    offset,
		Limit:     limit,
	})
	if err != nil {
		return nil, 0, err
	}

	ms := make([]*T, 0, len(res.Entries))
	for i := range res.Entries {
		m, err := f.repo.decodeEntry(&res.Entries[i], st.KnnAlias)
		if err != nil {
			return nil, 0, err
		}
		ms = append(ms, m)
	}
	metrics.ObserveSearchResults(f.repo.schema.Name(), len(ms))
	return ms, res.Total, nil
}
