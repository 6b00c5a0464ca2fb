// Package score measures how closely recognized text matches the text an
// image is known to contain.
package score

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/arbovm/levenshtein"
	"github.com/codycollier/wer"
)

// DefaultThreshold is the similarity ratio a recognition must reach to pass.
// It tolerates minor engine misreads.
const DefaultThreshold = 0.8

// Report summarizes a comparison between recognized and expected text.
type Report struct {
	Got            string  `json:"got"`
	Want           string  `json:"want"`
	Ratio          float64 `json:"ratio"`
	WordErrorRate  float64 `json:"word_error_rate"`
	WordErrors     int     `json:"word_errors"`
	Threshold      float64 `json:"threshold"`
	MeetsThreshold bool    `json:"meets_threshold"`
}

// Ratio returns the edit-distance similarity of got and want in [0, 1]:
// (t - d) / t where t is the combined rune count and d the Levenshtein
// distance. Two empty strings are identical.
func Ratio(got, want string) float64 {
	total := utf8.RuneCountInString(got) + utf8.RuneCountInString(want)
	if total == 0 {
		return 1
	}
	d := levenshtein.Distance(got, want)
	return float64(total-d) / float64(total)
}

// WordErrorRate returns the word error rate of got against want and the
// number of word-level edits.
func WordErrorRate(got, want string) (float64, int) {
	ref := strings.Fields(want)
	hyp := strings.Fields(got)
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0, 0
		}
		return 1, len(hyp)
	}
	rate, _ := wer.WER(ref, hyp)
	return rate, int(math.Round(rate * float64(len(ref))))
}

// Check compares got with want. A threshold <= 0 uses DefaultThreshold.
func Check(got, want string, threshold float64) Report {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	ratio := Ratio(got, want)
	rate, edits := WordErrorRate(got, want)
	return Report{
		Got:            got,
		Want:           want,
		Ratio:          ratio,
		WordErrorRate:  rate,
		WordErrors:     edits,
		Threshold:      threshold,
		MeetsThreshold: ratio >= threshold,
	}
}
