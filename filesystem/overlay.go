package filesystem

import (
	"os"
	"path/filepath"
)

// Overlay is an optional read-side provider that shadows a real directory
// tree into the namespace. The engine only consults it for child listings
// and for materialising shadow folders; content always lives in the
// datastore.
type Overlay interface {
	// List returns the names of entries under path, or nil if the path does
	// not exist locally.
	List(path string) ([]string, error)
	// Stat reports whether path exists locally and whether it is a directory.
	Stat(path string) (exists, isDir bool)
}

// DirOverlay shadows an on-disk directory tree rooted at Root.
type DirOverlay struct {
	Root string
}

// NewDirOverlay creates an overlay over the local directory root.
func NewDirOverlay(root string) *DirOverlay {
	return &DirOverlay{Root: root}
}

func (o *DirOverlay) localPath(path string) string {
	return filepath.Join(o.Root, filepath.FromSlash(path))
}

func (o *DirOverlay) List(path string) ([]string, error) {
	entries, err := os.ReadDir(o.localPath(path))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func (o *DirOverlay) Stat(path string) (exists, isDir bool) {
	info, err := os.Stat(o.localPath(path))
	if err != nil {
		return false, false
	}
	return true, info.IsDir()
}
