package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys per section. The empty section holds the
// top-level keys, including the section names themselves.
var knownKeys = map[string][]string{
	"":            {"base_url", "storage", "renewal", "network", "logging", "maintenance"},
	"storage":     {"backend", "path", "redis_addr", "redis_prefix", "credential_key", "base_url_key"},
	"renewal":     {"interval", "threshold"},
	"network":     {"timeout", "user_agent"},
	"logging":     {"log_level", "log_format"},
	"maintenance": {"purge_after"},
}

func init() {
	// Sorted for deterministic suggestions when two candidates have the same
	// edit distance.
	for _, keys := range knownKeys {
		sort.Strings(keys)
	}
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key, suggesting the closest known
// key in the same section.
func unknownKeyError(key toml.Key) error {
	section, field := "", key[0]

	if len(key) > 1 {
		if _, ok := knownKeys[key[0]]; ok {
			section, field = key[0], key[1]
		}
	}

	name := field
	if section != "" {
		name = section + "." + field
	}

	if suggestion := closestMatch(field, knownKeys[section]); suggestion != "" {
		return fmt.Errorf("unknown config key %q, did you mean %q?", name, suggestion)
	}

	return fmt.Errorf("unknown config key %q", strings.Join(key, "."))
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
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
