// Package match picks the course whose title best matches a set of keywords.
package match

import (
	"strings"
	"unicode/utf8"

	"enrollassist-backend/internal/scrapers/portal"

	"github.com/antzucaro/matchr"
)

// Threshold is the lowest score accepted as a match, inclusive.
const Threshold = 0.3

// Result is the best scoring course and its score in [0, 1].
type Result struct {
	Course portal.CourseRecord `json:"course"`
	Score  float64             `json:"score"`
}

// Score compares two strings case-insensitively. When one contains the other
// the score is 0.9 plus a bonus proportional to their length ratio, otherwise
// it is one minus the normalized edit distance. Lengths count runes.
func Score(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	lenA := utf8.RuneCountInString(a)
	lenB := utf8.RuneCountInString(b)
	if lenA == 0 || lenB == 0 {
		return 0
	}

	shorter, longer := lenA, lenB
	if shorter > longer {
		shorter, longer = longer, shorter
	}

	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.9 + 0.1*float64(shorter)/float64(longer)
	}

	distance := matchr.Levenshtein(a, b)
	score := 1 - float64(distance)/float64(longer)
	if score < 0 {
		return 0
	}
	return score
}

// courseScore is the best score of the title across all keywords.
func courseScore(title string, keywords []string) float64 {
	best := 0.0
	for _, kw := range keywords {
		s := Score(title, kw)
		if s > best {
			best = s
		}
	}
	return best
}

// Best returns the course with the highest score, ties going to the earlier
// course. ok is false if nothing reaches Threshold.
func Best(courses []portal.CourseRecord, keywords []string) (Result, bool) {
	candidates := make([]Result, len(courses))
	for i, c := range courses {
		candidates[i] = Result{Course: c, Score: courseScore(c.Title, keywords)}
	}
	return pick(candidates, Threshold)
}

// Rank returns every course scoring at least threshold, best first. Courses
// with equal scores keep their catalog order.
func Rank(courses []portal.CourseRecord, keywords []string, threshold float64) []Result {
	out := []Result{}
	for _, c := range courses {
		s := courseScore(c.Title, keywords)
		if s < threshold {
			continue
		}
		r := Result{Course: c, Score: s}
		i := len(out)
		for i > 0 && out[i-1].Score < s {
			i--
		}
		out = append(out, Result{})
		copy(out[i+1:], out[i:])
		out[i] = r
	}
	return out
}

func pick(candidates []Result, threshold float64) (Result, bool) {
	bestIndex := -1
	for i, c := range candidates {
		if bestIndex < 0 || c.Score > candidates[bestIndex].Score {
			bestIndex = i
		}
	}
	if bestIndex < 0 || candidates[bestIndex].Score < threshold {
		return Result{}, false
	}
	return candidates[bestIndex], true
}
