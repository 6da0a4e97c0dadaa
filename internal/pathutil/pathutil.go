// Package pathutil holds the URL-path checks shared by anything that maps
// request paths onto a filesystem.
package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// HasHiddenSegment reports whether any segment starts with a dot, which
// covers dotfiles (.env, .git) as well as "." and "..".
func HasHiddenSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// Unsafe reports paths that must never be mapped to a file: NUL bytes,
// backslashes and dot segments.
func Unsafe(p string) bool {
	return strings.ContainsAny(p, "\x00\\") || HasDotSegments(p)
}
