package syncer

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/unicode/norm"
)

// partialSuffixes mark in-flight downloads and editor temp files. They are
// never synced regardless of the configured patterns.
var partialSuffixes = []string{".partial", ".tmp"}

const tempPrefix = "~"

// Filter selects which file names in a role directory are synced. Patterns
// are doublestar globs matched against the bare file name. A name is synced
// when it matches some include pattern (or there are none) and no exclude
// pattern. A nil *Filter syncs everything not always excluded.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter validates the patterns.
func NewFilter(include, exclude []string) (*Filter, error) {
	for _, set := range [][]string{include, exclude} {
		for _, p := range set {
			if !doublestar.ValidatePattern(p) {
				return nil, fmt.Errorf("syncer: invalid pattern %q", p)
			}
		}
	}

	return &Filter{
		include: append([]string(nil), include...),
		exclude: append([]string(nil), exclude...),
	}, nil
}

// Match reports whether name should be synced.
func (f *Filter) Match(name string) bool {
	if alwaysExcluded(name) {
		return false
	}

	if f == nil {
		return true
	}

	name = norm.NFC.String(name)

	for _, p := range f.exclude {
		if ok, _ := doublestar.Match(p, name); ok {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}

	for _, p := range f.include {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}

	return false
}

func alwaysExcluded(name string) bool {
	if name == "" || strings.HasPrefix(name, tempPrefix) {
		return true
	}

	lower := strings.ToLower(name)
	for _, s := range partialSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}

	return false
}
