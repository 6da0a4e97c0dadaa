package static

import (
	"io/fs"
	"path"
	"strings"

	"github.com/keithlinneman/basicweb/internal/pathutil"
)

// resolvePath maps a URL path to a file in fsys. On a hit it returns the
// FS-relative name. For a directory requested without its trailing slash
// it returns the canonical URL path to redirect to instead.
func resolvePath(urlPath, index string, fsys fs.FS) (file, redirectTo string, ok bool) {
	p := urlPath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if pathutil.Unsafe(p) || pathutil.HasHiddenSegment(p) {
		return "", "", false
	}

	dir := strings.HasSuffix(p, "/")
	clean := path.Clean(p)

	if clean == "/" {
		return found(fsys, index)
	}
	name := strings.TrimPrefix(clean, "/")
	if dir {
		return found(fsys, name+"/"+index)
	}
	if isFile(fsys, name) {
		return name, "", true
	}
	if isFile(fsys, name+"/"+index) {
		return "", clean + "/", true
	}
	return "", "", false
}

func found(fsys fs.FS, name string) (string, string, bool) {
	if isFile(fsys, name) {
		return name, "", true
	}
	return "", "", false
}

func isFile(fsys fs.FS, name string) bool {
	if !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	return err == nil && info.Mode().IsRegular()
}
