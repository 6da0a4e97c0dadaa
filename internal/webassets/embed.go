// Package webassets carries the default public directory compiled into the
// binary. It is served when no public directory exists on disk.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

//go:embed public
var embedded embed.FS

// PublicFS returns the embedded default site, rooted so index.html is at
// the top.
func PublicFS() fs.FS {
	sub, err := fs.Sub(embedded, "public")
	if err != nil {
		panic(fmt.Errorf("webassets: public subfs: %w", err))
	}
	return sub
}

// Resolve picks the directory to serve: dir on disk when it exists, else the
// embedded site. embedded reports which one was chosen.
func Resolve(dir string) (fsys fs.FS, embedded bool, err error) {
	if dir != "" {
		info, err := os.Stat(dir)
		switch {
		case err == nil && info.IsDir():
			return os.DirFS(dir), false, nil
		case err == nil:
			return nil, false, fmt.Errorf("public dir %s is not a directory", dir)
		case !os.IsNotExist(err):
			return nil, false, fmt.Errorf("public dir %s: %w", dir, err)
		}
	}
	return PublicFS(), true, nil
}
