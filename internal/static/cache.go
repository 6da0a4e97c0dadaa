package static

import (
	"path"
	"strings"
)

// Class groups files by how long clients may cache them.
type Class string

const (
	ClassHTML  Class = "html"
	ClassAsset Class = "asset"
	ClassOther Class = "other"
)

func classify(name string) Class {
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".html", ".htm", "":
		return ClassHTML
	case ".css", ".js", ".mjs",
		".png", ".jpg", ".jpeg", ".webp", ".gif", ".svg", ".ico",
		".woff", ".woff2", ".ttf", ".eot",
		".map":
		return ClassAsset
	default:
		return ClassOther
	}
}

func (o *Options) cacheControl(c Class) string {
	switch c {
	case ClassHTML:
		return o.HTMLCacheControl
	case ClassAsset:
		return o.AssetCacheControl
	default:
		return o.OtherCacheControl
	}
}
