// Package paginate defines the cursor contract used to enumerate long remote
// listings one page at a time.
//
// A Page exposes its entries, whether a next page exists and how to fetch
// it. The crawl engine never inspects the wire shape behind a page, so the
// same traversal works for form postback listings and for indexed JSON
// listings alike.
//
// Iterator turns a chain of pages into a flat sequence with a running index
// that does not reset at page boundaries. It refuses to follow a chain past
// MaxPages, or past MaxEmptyPages consecutive empty pages that still claim a
// successor, so a stalled cursor always terminates with a pagination error.
package paginate
