package model

import (
	"path"
	"strings"
)

const RootPath = "/"

// ParentPath returns the parent of a root-relative path. The root has none.
func ParentPath(p string) string {
	if p == "" || p == RootPath {
		return ""
	}

	return path.Dir(p)
}

func JoinPath(parent, name string) string {
	return path.Join(RootPath, parent, name)
}

// IsUnder reports whether p equals or descends from ancestor.
func IsUnder(p, ancestor string) bool {
	if ancestor == RootPath {
		return strings.HasPrefix(p, RootPath)
	}

	return p == ancestor || strings.HasPrefix(p, ancestor+"/")
}

// BaseName returns the last element of a root-relative path.
func BaseName(p string) string {
	if p == "" || p == RootPath {
		return ""
	}

	return path.Base(p)
}
