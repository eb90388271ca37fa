package pricing

import "strings"

// MetroMatcher decides whether a free-text city refers to a configured metro
type MetroMatcher interface {
	Match(city, metro string) bool
}

// ContainsMatcher matches when the normalized city contains the normalized
// metro name, so "Nashville, TN" matches "Nashville".
type ContainsMatcher struct{}

func (ContainsMatcher) Match(city, metro string) bool {
	m := normalize(metro)
	if m == "" {
		return false
	}
	return strings.Contains(normalize(city), m)
}

// ExactMatcher matches only when both names normalize to the same string
type ExactMatcher struct{}

func (ExactMatcher) Match(city, metro string) bool {
	m := normalize(metro)
	return m != "" && normalize(city) == m
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
