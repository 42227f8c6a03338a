package filesystem

import "strings"

// Path handling for the engine's namespace. Paths are absolute,
// forward-slash separated, with no trailing slash except the root "/".
// Backslash separators are accepted on input for developer convenience only
// and normalised away.

// RootPath is the namespace root.
const RootPath = "/"

// Normalize converts a raw path string to canonical form: separators
// unified to "/", redundant separators collapsed, "." and ".." resolved.
// The input must be absolute; ".." above the root is rejected.
func Normalize(raw string) (string, error) {
	if raw == "" {
		return "", fsErr("normalize", raw, ErrInvalidPath)
	}
	p := strings.ReplaceAll(raw, `\`, "/")
	if !strings.HasPrefix(p, "/") {
		return "", fsErr("normalize", raw, ErrInvalidPath)
	}

	var stack []string
	for _, comp := range strings.Split(p, "/") {
		switch comp {
		case "", ".":
		case "..":
			if len(stack) == 0 {
				return "", fsErr("normalize", raw, ErrInvalidPath)
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, comp)
		}
	}
	if len(stack) == 0 {
		return RootPath, nil
	}
	return "/" + strings.Join(stack, "/"), nil
}

// IsAbs reports whether raw denotes an absolute path (after separator
// conversion).
func IsAbs(raw string) bool {
	return strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, `\`)
}

// Parent returns the parent path of a normalised path. The root is its own
// parent.
func Parent(path string) string {
	if path == RootPath {
		return RootPath
	}
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return RootPath
	}
	return path[:idx]
}

// Base returns the last component of a normalised path; "/" for the root.
func Base(path string) string {
	if path == RootPath {
		return RootPath
	}
	return path[strings.LastIndexByte(path, '/')+1:]
}

// Components splits a normalised path into its components. The root has
// none.
func Components(path string) []string {
	if path == RootPath {
		return nil
	}
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

// Resolve resolves other against base: an absolute other is normalised and
// returned as-is, a relative other is appended to base.
func Resolve(base, other string) (string, error) {
	if IsAbs(other) {
		return Normalize(other)
	}
	nbase, err := Normalize(base)
	if err != nil {
		return "", err
	}
	if other == "" {
		return nbase, nil
	}
	if nbase == RootPath {
		return Normalize("/" + other)
	}
	return Normalize(nbase + "/" + other)
}

// Relativize returns the path of to relative to from, walking component-wise
// through the common ancestor.
func Relativize(from, to string) (string, error) {
	nfrom, err := Normalize(from)
	if err != nil {
		return "", err
	}
	nto, err := Normalize(to)
	if err != nil {
		return "", err
	}
	if nfrom == nto {
		return "", nil
	}

	fc := Components(nfrom)
	tc := Components(nto)
	common := 0
	for common < len(fc) && common < len(tc) && fc[common] == tc[common] {
		common++
	}

	var parts []string
	for range fc[common:] {
		parts = append(parts, "..")
	}
	parts = append(parts, tc[common:]...)
	return strings.Join(parts, "/"), nil
}

// StartsWith reports whether path begins with prefix as a raw string
// prefix. This intentionally matches on raw strings rather than path
// components, mirroring the behaviour of the original provider.
func StartsWith(path, prefix string) bool {
	return strings.HasPrefix(path, prefix)
}

// EndsWith reports whether path ends with suffix as a raw string suffix.
func EndsWith(path, suffix string) bool {
	return strings.HasSuffix(path, suffix)
}
