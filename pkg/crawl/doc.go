// Package crawl implements the resumable depth-first traversal of a remote
// content tree.
//
// The Engine opens the root listing through a Lister, walks every entry page
// by page and either recurses into containers or hands leaves to the
// Extractor registered for their kind. Returned payloads are persisted
// through a Writer that never overwrites earlier output.
//
// Before every dispatch the entry's Position is saved to the checkpoint
// store. A later run given that position skips everything before it and
// dispatches the recorded entry again, so an interrupted item is processed at
// least once. Indices count across page boundaries, which keeps positions
// stable no matter how a listing is paginated.
//
// Every per-entry failure (extraction, listing, pagination or a local write)
// goes to the failure policy. Continue moves to the next sibling; Abort stops
// the whole traversal and Traverse returns ErrAborted. Cancelling the context
// has the same effect.
package crawl
