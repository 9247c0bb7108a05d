package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"
)

// minSimilarity is the lowest difflib ratio a candidate needs to be suggested.
const minSimilarity = 0.6

// suggest returns the candidate closest to `name`, if any is close enough.
func suggest(name string, candidates []string) (string, bool) {
	var best string
	var bestRatio float64
	a := strings.Split(strings.ToLower(name), "")
	for _, c := range candidates {
		m := difflib.NewMatcher(a, strings.Split(strings.ToLower(c), ""))
		if r := m.Ratio(); r > bestRatio {
			best, bestRatio = c, r
		}
	}
	return best, bestRatio >= minSimilarity
}

func withSuggestion(err error, name string, candidates []string) error {
	if s, ok := suggest(name, candidates); ok {
		return errors.Wrapf(err, "did you mean %q", s)
	}
	return err
}
