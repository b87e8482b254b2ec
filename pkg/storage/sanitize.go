package storage

import (
	"path/filepath"
	"runtime"
	"strings"
)

// Characters that never survive into a local name. The path set keeps
// separators and dots so that whole relative paths can be cleaned.
var (
	pathBlacklist     = []string{":", ",", "*", "?", "\"", "<", ">", "\t", "`", "´", "|"}
	nameBlacklist     = append([]string{".", "/", "\\"}, pathBlacklist...)
	fileNameBlacklist = append([]string{"/", "\\"}, pathBlacklist...)

	nameReplacer     = newStripper(nameBlacklist)
	pathReplacer     = newStripper(pathBlacklist)
	fileNameReplacer = newStripper(fileNameBlacklist)
)

func newStripper(chars []string) *strings.Replacer {
	pairs := make([]string, 0, len(chars)*2)
	for _, c := range chars {
		pairs = append(pairs, c, "")
	}
	return strings.NewReplacer(pairs...)
}

// Sanitize turns an untrusted display name into a single path segment.
// It is deterministic and never returns an empty string.
func Sanitize(name string) string {
	return orPlaceholder(strings.TrimSpace(nameReplacer.Replace(name)))
}

// SanitizeFileName cleans a file name that already carries an extension.
// Unlike Sanitize it keeps dots.
func SanitizeFileName(name string) string {
	return orPlaceholder(strings.TrimSpace(fileNameReplacer.Replace(name)))
}

// SanitizePath cleans a relative or absolute path segment by segment,
// keeping separators and the volume name of Windows paths.
func SanitizePath(path string) string {
	volume := filepath.VolumeName(path)
	if runtime.GOOS != "windows" {
		volume = ""
	}
	rest := pathReplacer.Replace(path[len(volume):])

	segments := strings.Split(filepath.ToSlash(rest), "/")
	for i, s := range segments {
		segments[i] = strings.TrimSpace(s)
	}
	return volume + filepath.FromSlash(strings.Join(segments, "/"))
}

func orPlaceholder(s string) string {
	if s == "" {
		return "_"
	}
	return s
}
