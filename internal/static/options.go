package static

import (
	"errors"
	"fmt"
	"io/fs"
)

var ErrInvalidOptions = errors.New("static: invalid options")

type Options struct {
	// FS is the public directory. Required.
	FS fs.FS

	// Index is served for "/" and "dir/". Default "index.html".
	Index string

	// Cache policies applied by file class.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=31536000, immutable"
	OtherCacheControl string // default: "public, max-age=3600"

	// OnHit is called after a file is served, with its Class.
	OnHit func(class Class)
}

func (o *Options) setDefaults() {
	if o.Index == "" {
		o.Index = "index.html"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=31536000, immutable"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}

func (o *Options) validate() error {
	if o.FS == nil {
		return fmt.Errorf("%w: FS is nil", ErrInvalidOptions)
	}
	if !fs.ValidPath(o.Index) || o.Index == "." {
		return fmt.Errorf("%w: bad index name %q", ErrInvalidOptions, o.Index)
	}
	return nil
}
