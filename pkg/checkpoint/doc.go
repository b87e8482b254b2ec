// Package checkpoint records where a crawl is so an interrupted run can pick
// up at the same entry.
//
// A Position is the path of child indices from the root to the entry being
// dispatched. It is persisted as two lines of text:
//
//	3
//	0, 4, 1
//
// The first line is the top-level index, the second the nested indices. The
// file is rewritten before every dispatch through a temporary file and a
// rename. Loading never fails hard: a missing or damaged file simply means
// the crawl starts from the beginning.
package checkpoint
