// Package alias derives the equivalent lookup paths of uploaded files, so a
// static site uploaded as dist/index.html is reachable as dist as well.
package alias

import "strings"

const (
	htmlSuffix  = ".html"
	indexSuffix = "/index.html"
)

// Derive returns the pathname followed by its aliases:
//
//	site/index.html -> site/index.html, site
//	docs/intro.html -> docs/intro.html, docs/intro
//
// A bare index.html has no alias, since the empty path is never a valid alias.
// The parent directory is only an alias of its own index.html, never of a
// sibling page like docs/intro.html.
func Derive(pathname string) []string {
	out := []string{pathname}

	var extra string
	switch {
	case strings.HasSuffix(pathname, indexSuffix):
		extra = strings.TrimSuffix(pathname, indexSuffix)
	case pathname == "index.html":
	case strings.HasSuffix(pathname, htmlSuffix):
		extra = strings.TrimSuffix(pathname, htmlSuffix)
	}

	if extra != "" && extra != pathname {
		out = append(out, extra)
	}
	return out
}

// Result is the alias expansion of a set of pathnames
type Result struct {
	// Aliases maps each input pathname to its Derive output
	Aliases map[string][]string
	// Best is the shortest alias across all inputs, ties broken lexicographically
	Best string
}

// DeriveAll expands every pathname and picks the best entrypoint candidate
func DeriveAll(pathnames []string) Result {
	res := Result{Aliases: make(map[string][]string, len(pathnames))}
	if len(pathnames) == 0 {
		return res
	}

	res.Best = pathnames[0]
	for _, p := range pathnames {
		aliases := Derive(p)
		res.Aliases[p] = aliases
		for _, a := range aliases {
			if better(a, res.Best) {
				res.Best = a
			}
		}
	}
	return res
}

// Union returns every alias in the result, in no particular order
func (r Result) Union() map[string]struct{} {
	set := make(map[string]struct{})
	for _, aliases := range r.Aliases {
		for _, a := range aliases {
			set[a] = struct{}{}
		}
	}
	return set
}

// Entrypoints returns the requested paths that are known aliases of pathnames,
// keeping the requested order. When none match it falls back to the best alias.
func Entrypoints(pathnames, requested []string) []string {
	res := DeriveAll(pathnames)
	if len(pathnames) == 0 {
		return nil
	}

	union := res.Union()
	seen := make(map[string]struct{}, len(requested))
	var out []string
	for _, r := range requested {
		if _, ok := union[r]; !ok {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}

	if len(out) == 0 {
		return []string{res.Best}
	}
	return out
}

func better(candidate, current string) bool {
	if len(candidate) != len(current) {
		return len(candidate) < len(current)
	}
	return candidate < current
}
