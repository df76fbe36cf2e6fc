// Package util provides small helpers shared by the labeling packages.
package util

import (
	"fmt"
	"strings"
)

// maxSuggestionDistance is the largest edit distance still offered as a suggestion.
const maxSuggestionDistance = 5

// UnknownNameError reports a name that matched none of the accepted values.
// Err is the caller's sentinel and is what errors.Is sees. Suggestion is
// empty when no candidate was close enough.
type UnknownNameError struct {
	Err        error
	Name       string
	Suggestion string
}

func (e *UnknownNameError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v %q, did you mean %q?", e.Err, e.Name, e.Suggestion)
	}
	return fmt.Sprintf("%v %q", e.Err, e.Name)
}

func (e *UnknownNameError) Unwrap() error { return e.Err }

// MatchName looks up name among candidates, ignoring case and surrounding whitespace.
// It returns the canonical candidate spelling on success. On failure the returned
// *UnknownNameError wraps notFound and carries the closest candidate (by
// Levenshtein distance), if any.
func MatchName(notFound error, name string, candidates []string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))

	for _, c := range candidates {
		if strings.ToLower(c) == normalized {
			return c, nil
		}
	}

	return "", &UnknownNameError{
		Err:        notFound,
		Name:       name,
		Suggestion: ClosestName(normalized, candidates),
	}
}

// ClosestName finds the closest candidate using Levenshtein distance.
// Returns empty string if no close match is found (distance > 5) or input is empty.
func ClosestName(input string, candidates []string) string {
	if input == "" {
		return ""
	}

	bestDistance := maxSuggestionDistance + 1
	var bestMatch string

	for _, c := range candidates {
		distance := levenshteinDistance(input, strings.ToLower(c))
		if distance < bestDistance {
			bestDistance = distance
			bestMatch = c
		}
	}

	if bestDistance <= maxSuggestionDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance calculates the Levenshtein distance between two strings.
// This is the minimum number of single-character edits (insertions, deletions,
// or substitutions) required to change one string into the other.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
	}

	for i := 0; i <= len(a); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}

			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}
