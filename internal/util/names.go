package util

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var (
	unsafeChars = strings.NewReplacer(
		"/", "-", "\\", "-", "*", "-", ":", "-", "|", "-",
		"\"", "-", "<", "-", ">", "-", "?", "-",
	)

	// "name (2)" from local de-duplication, "name__2" from older clients
	dedupSuffix = regexp.MustCompile(`(?: \(\d+\)|__\d+)$`)
)

// SafeFilename replaces characters that cannot appear in a local file name.
func SafeFilename(name string) string {
	return strings.TrimSpace(unsafeChars.Replace(name))
}

// SplitExt splits name into base and extension. Dot files have no extension.
func SplitExt(name string) (string, string) {
	ext := path.Ext(name)
	if ext == name {
		return name, ""
	}

	return strings.TrimSuffix(name, ext), ext
}

func StripDedupSuffix(base string) string {
	return dedupSuffix.ReplaceAllString(base, "")
}

// DedupName returns the n-th alternative for name, e.g. "report (2).txt".
func DedupName(name string, n int) string {
	base, ext := SplitExt(name)
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}
