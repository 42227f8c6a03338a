package filesystem

import "time"

// Attribute view names exposed to the outer adapter.
const (
	ViewBasic  = "basic"
	ViewEngine = "dsfs"
)

// Attrs is a typed snapshot of a node's attributes.
type Attrs struct {
	Type         FileType
	Size         int64
	LastModified time.Time

	// Engine view additions; zero for folders.
	BlockSize   int
	BlockCount  int
	ContentSize int64
}

// Stat returns the node's attributes; the node must exist.
func (fs *FileSystem) Stat(path string) (*Attrs, error) {
	n, err := fs.Resolve(path)
	if err != nil {
		return nil, err
	}
	var attrs Attrs
	if err := n.withMeta(func() error {
		if n.meta.FileType() == Imaginary {
			return fsErr("stat", n.path, ErrNoSuchFile)
		}
		attrs = Attrs{
			Type:         n.meta.FileType(),
			Size:         n.meta.ContentSize(),
			LastModified: n.meta.LastModified(),
		}
		if attrs.Type == File {
			attrs.BlockSize = n.meta.BlockSize()
			attrs.BlockCount = len(n.meta.BlockKeys())
			attrs.ContentSize = n.meta.ContentSize()
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &attrs, nil
}

// Attrs returns the string-named attribute map for a view: "basic" holds
// filetype, size, and last-modified; "dsfs" adds block-size, block-count,
// and content-size.
func (fs *FileSystem) Attrs(path, view string) (map[string]any, error) {
	if view != ViewBasic && view != ViewEngine {
		return nil, fsErr("attrs", path, ErrUnsupportedOption)
	}
	attrs, err := fs.Stat(path)
	if err != nil {
		return nil, err
	}
	m := map[string]any{
		"filetype":      attrs.Type.String(),
		"size":          attrs.Size,
		"last-modified": attrs.LastModified,
	}
	if view == ViewEngine {
		m["block-size"] = attrs.BlockSize
		m["block-count"] = attrs.BlockCount
		m["content-size"] = attrs.ContentSize
	}
	return m, nil
}
