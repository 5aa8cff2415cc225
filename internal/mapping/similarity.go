// Package mapping suggests authoritative names for source names that do not
// match the reference exactly and persists the reviewed result.
package mapping

import (
	"sort"

	"github.com/agext/levenshtein"

	"github.com/tolima-epi/vereda-cli/internal/normalize"
)

// Confidence is the bucket of a fuzzy suggestion.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceReview Confidence = "review"
)

// Thresholds are the minimum scores (0-100) for the high and medium buckets.
type Thresholds struct {
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
}

// DefaultThresholds: 95 and above maps automatically, 85 to 95 needs a look.
var DefaultThresholds = Thresholds{High: 95, Medium: 85}

// Bucket places score into a confidence bucket.
func (th Thresholds) Bucket(score float64) Confidence {
	switch {
	case score >= th.High:
		return ConfidenceHigh
	case score >= th.Medium:
		return ConfidenceMedium
	default:
		return ConfidenceReview
	}
}

// Bucket places score into a bucket using DefaultThresholds.
func Bucket(score float64) Confidence {
	return DefaultThresholds.Bucket(score)
}

// Similarity scores two names from 0 to 100 by Levenshtein distance on their
// strict forms. Two names that are both empty score 100.
func Similarity(a, b string) float64 {
	return levenshtein.Similarity(normalize.Strict(a), normalize.Strict(b), nil) * 100
}

// Suggestion is the best reference candidate for one source name.
type Suggestion struct {
	Name       string     `yaml:"name" json:"name"`
	Match      string     `yaml:"match" json:"match"`
	Score      float64    `yaml:"score" json:"score"`
	Confidence Confidence `yaml:"confidence" json:"confidence"`
}

// Suggest returns the best reference candidate for each name, in input
// order. Ties go to the reference name that sorts first. With an empty
// reference every suggestion has an empty match and a zero score.
func Suggest(names, reference []string, th Thresholds) []Suggestion {
	candidates := strictForms(reference)

	out := make([]Suggestion, 0, len(names))
	for _, name := range names {
		s := Suggestion{Name: name, Confidence: ConfidenceReview}
		key := normalize.Strict(name)
		for _, c := range candidates {
			score := levenshtein.Similarity(key, c.strict, nil) * 100
			if score > s.Score || s.Match == "" {
				s.Match = c.raw
				s.Score = score
			}
		}
		s.Confidence = th.Bucket(s.Score)
		if s.Match == "" {
			s.Confidence = ConfidenceReview
		}
		out = append(out, s)
	}
	return out
}

type candidate struct {
	raw    string
	strict string
}

// strictForms returns each distinct reference name with its strict form,
// sorted by raw name.
func strictForms(names []string) []candidate {
	seen := make(map[string]bool, len(names))
	out := make([]candidate, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, candidate{raw: n, strict: normalize.Strict(n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].raw < out[j].raw })
	return out
}
