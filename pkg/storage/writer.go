package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	errs "coursedump/pkg/errors"
	"coursedump/pkg/logger"
)

// DefaultOverflowFolder receives files whose intended path cannot be created
const DefaultOverflowFolder = "Overflowed Files"

// maxOverflowBase bounds the base name used inside the overflow folder
const maxOverflowBase = 200

// Target is one payload waiting to be written
type Target struct {
	Dir     string
	Name    string
	Content []byte
}

// Written describes where a target ended up
type Written struct {
	Path string
	// Intended is the path that would have been used without the overflow fallback
	Intended   string
	Overflowed bool
}

// Writer writes content to paths that are unique within the run and never
// overwrites an existing file
type Writer struct {
	root           string
	maxPathLength  int
	overflowFolder string
	logger         logger.Logger

	mu            sync.Mutex
	reserved      map[string]struct{}
	overflowCount int
}

// NewWriter creates a writer rooted at the output directory. A maxPathLength
// of zero disables the length check; the operating system can still force an
// overflow by rejecting a name as too long.
func NewWriter(root string, maxPathLength int, overflowFolder string, log logger.Logger) (*Writer, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.Persistence("resolve output directory", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, errs.Persistence("create output directory", abs, err)
	}
	if overflowFolder == "" {
		overflowFolder = DefaultOverflowFolder
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Writer{
		root:           abs,
		maxPathLength:  maxPathLength,
		overflowFolder: overflowFolder,
		logger:         log,
		reserved:       make(map[string]struct{}),
	}, nil
}

// Root returns the absolute output directory
func (w *Writer) Root() string {
	return w.root
}

// OverflowCount returns how many files were redirected so far
func (w *Writer) OverflowCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.overflowCount
}

// WriteUnique writes content into dir under name, appending
// " (Duplicate N)" before the extension when the name is taken
func (w *Writer) WriteUnique(dir, name string, content []byte) (string, error) {
	res, err := w.Write(Target{Dir: dir, Name: name, Content: content})
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

// Write persists a target and reports where it landed
func (w *Writer) Write(t Target) (Written, error) {
	dir := t.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(w.root, dir)
	}
	name := SanitizeFileName(t.Name)
	intended := filepath.Join(dir, name)

	if w.tooLong(intended) {
		return w.overflow(intended, t.Content)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		if isNameTooLong(err) {
			return w.overflow(intended, t.Content)
		}
		return Written{}, errs.Persistence("create directory", dir, err)
	}

	path, err := w.create(dir, name, t.Content, true)
	if err != nil {
		if isNameTooLong(err) {
			return w.overflow(intended, t.Content)
		}
		return Written{}, errs.Persistence("write file", intended, err)
	}

	return Written{Path: path, Intended: intended}, nil
}

// create picks the first free candidate name and writes content to it.
// With limit set, a candidate reaching the length limit fails the write.
func (w *Writer) create(dir, name string, content []byte, limit bool) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for n := 0; ; n++ {
		candidate := name
		if n > 0 {
			candidate = fmt.Sprintf("%s (Duplicate %d)%s", stem, n, ext)
		}
		path := filepath.Join(dir, candidate)
		if limit && n > 0 && w.tooLong(path) {
			return "", syscall.ENAMETOOLONG
		}

		file, ok, err := w.reserve(path)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}

		if _, err := file.Write(content); err != nil {
			file.Close()
			w.release(path)
			return "", fmt.Errorf("failed to write content: %w", err)
		}
		if err := file.Close(); err != nil {
			w.release(path)
			return "", fmt.Errorf("failed to close file: %w", err)
		}
		return path, nil
	}
}

// reserve exclusively creates path. ok is false when the path is already
// taken on disk or was handed out earlier in this run.
func (w *Writer) reserve(path string) (*os.File, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, taken := w.reserved[path]; taken {
		return nil, false, nil
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	w.reserved[path] = struct{}{}
	return file, true, nil
}

// release removes a partially written file
func (w *Writer) release(path string) {
	os.Remove(path)
	w.mu.Lock()
	delete(w.reserved, path)
	w.mu.Unlock()
}

// overflow writes content into the overflow folder of the top-level item
// that owns intended, next to a sidecar naming the original path
func (w *Writer) overflow(intended string, content []byte) (Written, error) {
	dir := filepath.Join(w.topLevelDir(intended), w.overflowFolder)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Written{}, errs.Persistence("create overflow directory", dir, err)
	}

	w.mu.Lock()
	w.overflowCount++
	n := w.overflowCount
	w.mu.Unlock()

	base := shortenBase(filepath.Base(intended))
	path, err := w.create(dir, fmt.Sprintf("%d_%s", n, base), content, false)
	if err != nil {
		return Written{}, errs.Persistence("write overflow file", intended, err)
	}

	sidecarName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".txt"
	if _, err := w.create(dir, sidecarName, []byte("Original file path: "+intended), false); err != nil {
		return Written{}, errs.Persistence("write overflow sidecar", intended, err)
	}

	w.logger.WarnWithFields("File was written to overflow directory, path too long", map[string]interface{}{
		"original_path": intended,
		"new_path":      path,
	})

	return Written{Path: path, Intended: intended, Overflowed: true}, nil
}

// topLevelDir returns <root>/<first segment of path below root>, or the
// root itself when path is not inside a top-level item directory
func (w *Writer) topLevelDir(path string) string {
	rel, err := filepath.Rel(w.root, filepath.Dir(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return w.root
	}
	first := strings.SplitN(rel, string(filepath.Separator), 2)[0]
	return filepath.Join(w.root, first)
}

func (w *Writer) tooLong(path string) bool {
	return w.maxPathLength > 0 && len(path) >= w.maxPathLength
}

func isNameTooLong(err error) bool {
	return errors.Is(err, syscall.ENAMETOOLONG)
}

// shortenBase truncates the stem of an over-long base name, keeping the extension
func shortenBase(base string) string {
	if len(base) <= maxOverflowBase {
		return base
	}
	ext := filepath.Ext(base)
	if len(ext) > maxOverflowBase/2 {
		ext = ""
	}
	stem := []rune(strings.TrimSuffix(base, ext))
	for len(string(stem))+len(ext) > maxOverflowBase {
		stem = stem[:len(stem)-1]
	}
	return string(stem) + ext
}
