package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance bounds "did you mean?" suggestions.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys per section. The empty section is the
// top level; "providers" applies to every [providers.<name>] table.
var knownKeys = map[string][]string{
	"": {"default_provider", "logging", "network", "sync", "metrics", "providers"},
	"logging": {"log_level", "log_format"},
	"network": {"user_agent", "connect_timeout"},
	"sync":    {"roles", "include", "exclude", "stale_after", "watch_debounce"},
	"metrics": {"listen"},
	"providers": {
		"type", "client_id", "client_secret", "redirect_uri", "base_url",
		"bucket", "region", "endpoint", "access_key_id", "secret_access_key",
		"path_style", "max_keys", "root",
	},
}

func init() {
	for _, keys := range knownKeys {
		sort.Strings(keys)
	}
}

// checkUnknownKeys reports every undecoded key, once per offending key
// path, with a suggestion when a known key is close.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		section, field, shown := classifyKey(key)
		if field == "" || seen[shown] {
			continue
		}

		seen[shown] = true
		errs = append(errs, unknownKeyError(section, field, shown))
	}

	return errors.Join(errs...)
}

// classifyKey finds the first component of key that is not a known key.
// shown is the dotted path up to and including it.
func classifyKey(key toml.Key) (section, field, shown string) {
	switch {
	case len(key) == 0:
		return "", "", ""
	case !contains(knownKeys[""], key[0]):
		return "", key[0], key[0]
	case key[0] == "providers" && len(key) >= 3:
		if !contains(knownKeys["providers"], key[2]) {
			return "providers", key[2], strings.Join(key[:3], ".")
		}
	case len(key) >= 2 && key[0] != "providers":
		if key[0] == "sync" && key[1] == "roles" {
			return "", "", ""
		}

		if !contains(knownKeys[key[0]], key[1]) {
			return key[0], key[1], strings.Join(key[:2], ".")
		}
	}

	return "", "", ""
}

func unknownKeyError(section, field, shown string) error {
	if suggestion := closestMatch(field, knownKeys[section]); suggestion != "" {
		return fmt.Errorf("unknown config key %q: did you mean %q?", shown, suggestion)
	}

	return fmt.Errorf("unknown config key %q", shown)
}

func contains(list []string, s string) bool {
	i := sort.SearchStrings(list, s)
	return i < len(list) && list[i] == s
}

// closestMatch finds the closest candidate by Levenshtein distance, or ""
// if none is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
