// Package storage writes crawled content into the local mirror.
//
// The storage package handles:
//   - Turning untrusted remote names into safe path segments
//   - Writing files without ever overwriting earlier output
//   - Redirecting files whose path is too long for the host filesystem
//
// Names are cleaned by Sanitize (single segment, no dots), SanitizeFileName
// (keeps the extension) and SanitizePath (keeps separators). All three are
// deterministic so a resumed run reproduces the paths of the previous one.
//
// Writer.WriteUnique never replaces an existing file. When the desired name
// is taken it appends " (Duplicate N)" before the extension, N starting at 1.
// Files are created with O_EXCL, so concurrent writers never share a path.
//
// When a path reaches the configured length limit, or the operating system
// rejects it as too long, the file is written to
//
//	<root>/<top-level item>/Overflowed Files/<counter>_<name>
//
// together with a <counter>_<stem>.txt sidecar holding the original path.
//
// Usage:
//
//	w, err := storage.NewWriter(cfg.Output.BaseDirectory, cfg.EffectiveMaxPathLength(), "", log)
//	if err != nil {
//	    return err
//	}
//	path, err := w.WriteUnique(dir, storage.Sanitize(title)+".md", text)
package storage
