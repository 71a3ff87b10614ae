package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter matches events by exact kind and by database path glob.
// Empty lists match everything.
type GlobFilter struct {
	kinds     map[string]struct{}
	databases []glob.Glob
}

// NewGlobFilter compiles database patterns with '/' as separator, so
// "*.sql" only matches bare file names and "**/geobase.sql" any directory.
func NewGlobFilter(kinds, dbPatterns []string) (*GlobFilter, error) {
	f := &GlobFilter{}

	if len(kinds) > 0 {
		f.kinds = make(map[string]struct{}, len(kinds))
		for _, k := range kinds {
			f.kinds[k] = struct{}{}
		}
	}

	for _, pattern := range dbPatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid database pattern %q: %w", pattern, err)
		}
		f.databases = append(f.databases, g)
	}

	return f, nil
}

func (f *GlobFilter) Match(kind, database string) bool {
	if f.kinds != nil {
		if _, ok := f.kinds[kind]; !ok {
			return false
		}
	}

	if len(f.databases) == 0 {
		return true
	}
	for _, g := range f.databases {
		if g.Match(database) {
			return true
		}
	}
	return false
}
