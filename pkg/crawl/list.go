package crawl

import (
	"context"
	"fmt"

	"coursedump/pkg/models"
	"coursedump/pkg/paginate"
)

// Entry is one top-level entry with its index
type Entry struct {
	Index    int
	Node     models.Node
	Included bool
}

// ListTopLevel returns the entries directly below root, marking which of
// them a traversal with opts would dispatch
func ListTopLevel(ctx context.Context, lister Lister, root models.Node, opts Options) ([]Entry, error) {
	page, err := lister.List(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", root.Label(), err)
	}

	nodes, err := paginate.Collect(ctx, page, paginate.Options{
		MaxPages:      opts.MaxPages,
		MaxEmptyPages: opts.MaxEmptyPages,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(nodes))
	for i, n := range nodes {
		entries[i] = Entry{
			Index:    i,
			Node:     n,
			Included: i >= opts.StartIndex && InScope(opts.Scope, n.Kind),
		}
	}
	return entries, nil
}
