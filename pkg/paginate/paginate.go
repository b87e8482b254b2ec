package paginate

import (
	"context"
	"fmt"

	errs "coursedump/pkg/errors"
	"coursedump/pkg/models"
)

const (
	// DefaultMaxPages bounds a single listing
	DefaultMaxPages = 10000
	// DefaultMaxEmptyPages is how many consecutive empty pages a cursor may
	// return while still claiming more
	DefaultMaxEmptyPages = 3
)

// Page is one page of a remote listing
type Page interface {
	// Entries returns the entries of this page in listing order
	Entries() []models.Node
	// HasNext reports whether the page carries a navigation marker to a next page
	HasNext() bool
	// Advance fetches the next page. It fails with a pagination error when
	// the marker is stale or the session expired.
	Advance(ctx context.Context) (Page, error)
}

// Static is an in-memory chain of pages
type Static struct {
	pages [][]models.Node
	index int
}

// NewStatic builds a chain from the given pages. With no pages it is a
// single empty page.
func NewStatic(pages ...[]models.Node) *Static {
	if len(pages) == 0 {
		pages = [][]models.Node{nil}
	}
	return &Static{pages: pages}
}

// Entries returns the entries of the current page
func (s *Static) Entries() []models.Node {
	return s.pages[s.index]
}

// HasNext reports whether another page follows
func (s *Static) HasNext() bool {
	return s.index+1 < len(s.pages)
}

// Advance returns the next page of the chain
func (s *Static) Advance(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.HasNext() {
		return nil, errs.Pagination("advance", "static", fmt.Errorf("no next page"))
	}
	return &Static{pages: s.pages, index: s.index + 1}, nil
}

// Options bounds how far an Iterator follows a chain
type Options struct {
	MaxPages      int
	MaxEmptyPages int
	// OnAdvance runs after every successful Advance, usually a rate limiter wait
	OnAdvance func(ctx context.Context) error
}

// Iterator walks every entry of a page chain with a running index that keeps
// counting across page boundaries
type Iterator struct {
	page    Page
	entries []models.Node
	pos     int
	index   int
	pages   int
	empty   int
	opts    Options
	err     error
	current models.Node
}

// NewIterator starts iterating at the given first page
func NewIterator(first Page, opts Options) *Iterator {
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.MaxEmptyPages <= 0 {
		opts.MaxEmptyPages = DefaultMaxEmptyPages
	}
	it := &Iterator{page: first, opts: opts, index: -1, pages: 1}
	if first != nil {
		it.entries = first.Entries()
	}
	return it
}

// Next moves to the next entry, advancing pages as needed. It returns false
// at the end of the chain or on error; check Err afterwards.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil || it.page == nil {
		return false
	}

	for it.pos >= len(it.entries) {
		if !it.page.HasNext() {
			return false
		}
		if it.pages >= it.opts.MaxPages {
			it.err = errs.Pagination("advance", "", fmt.Errorf("listing exceeded %d pages", it.opts.MaxPages))
			return false
		}

		if len(it.entries) == 0 {
			it.empty++
		} else {
			it.empty = 0
		}
		if it.empty >= it.opts.MaxEmptyPages {
			it.err = errs.Pagination("advance", "", fmt.Errorf("%d consecutive empty pages claimed a next page", it.empty))
			return false
		}

		next, err := it.page.Advance(ctx)
		if err != nil {
			it.err = err
			return false
		}
		if next == nil {
			it.err = errs.Pagination("advance", "", fmt.Errorf("cursor returned no page"))
			return false
		}
		it.page = next
		it.entries = next.Entries()
		it.pos = 0
		it.pages++

		if it.opts.OnAdvance != nil {
			if err := it.opts.OnAdvance(ctx); err != nil {
				it.err = err
				return false
			}
		}
	}

	it.current = it.entries[it.pos]
	it.pos++
	it.index++
	return true
}

// Node returns the current entry
func (it *Iterator) Node() models.Node {
	return it.current
}

// Index returns the running index of the current entry within the container
func (it *Iterator) Index() int {
	return it.index
}

// Pages returns how many pages have been fetched so far
func (it *Iterator) Pages() int {
	return it.pages
}

// Err returns the error that stopped iteration, if any
func (it *Iterator) Err() error {
	return it.err
}

// Collect drains a chain into a single slice, following at most maxPages
// pages. It is used for listings that must be known up front.
func Collect(ctx context.Context, first Page, opts Options) ([]models.Node, error) {
	var out []models.Node
	it := NewIterator(first, opts)
	for it.Next(ctx) {
		out = append(out, it.Node())
	}
	return out, it.Err()
}
