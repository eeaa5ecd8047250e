package uploader

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

const globMeta = "*?[{"

// Expand resolves path patterns against fsys into a sorted, de-duplicated list
// of slash-separated file paths. A plain directory includes every file below it.
// Patterns matching nothing are skipped; the caller decides whether an empty
// result is an error.
func Expand(fsys fs.FS, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			files = append(files, p)
		}
	}

	for _, raw := range patterns {
		pattern, err := cleanPattern(raw)
		if err != nil {
			return nil, err
		}

		if !strings.ContainsAny(pattern, globMeta) {
			if err := walkFiles(fsys, pattern, add); err != nil {
				return nil, err
			}
			continue
		}

		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", raw, err)
		}
		err = walkFiles(fsys, staticPrefix(pattern), func(p string) {
			if g.Match(p) {
				add(p)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

func cleanPattern(raw string) (string, error) {
	p := strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/"))
	if p == "" {
		return "", errors.New("empty path pattern")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("path %q must be relative to the working directory", raw)
	}

	p = path.Clean(p)
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("path %q is outside the working directory", raw)
	}
	return p, nil
}

// staticPrefix is the directory part of pattern before the first segment with
// glob syntax
func staticPrefix(pattern string) string {
	segments := strings.Split(pattern, "/")
	var prefix []string
	for _, seg := range segments[:len(segments)-1] {
		if strings.ContainsAny(seg, globMeta) {
			break
		}
		prefix = append(prefix, seg)
	}
	if len(prefix) == 0 {
		return "."
	}
	return strings.Join(prefix, "/")
}

func walkFiles(fsys fs.FS, root string, visit func(string)) error {
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			visit(p)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return nil
}
