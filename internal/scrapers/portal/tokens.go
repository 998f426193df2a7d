package portal

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// TokenSet maps hidden field names to their values. Keys are case-sensitive
// and a missing key behaves the same as an empty value.
type TokenSet map[string]string

func (t TokenSet) Get(key string) string {
	return t[key]
}

// Lookup reports whether key is present, even with an empty value.
func (t TokenSet) Lookup(key string) (string, bool) {
	v, ok := t[key]
	return v, ok
}

func (t TokenSet) Clone() TokenSet {
	out := make(TokenSet, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Missing returns the sorted, deduplicated required keys that are absent or empty.
func (t TokenSet) Missing(required []string) []string {
	missing := map[string]struct{}{}
	for _, key := range required {
		if t[key] == "" {
			missing[key] = struct{}{}
		}
	}
	return sortedKeys(missing)
}

// Keys returns every key in ascending order.
func (t TokenSet) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a new set holding every key of both sets. For each key the
// override value wins unless it is the empty string, in which case the base
// value is kept (even if it is empty as well).
func Merge(base, override TokenSet) TokenSet {
	out := make(TokenSet, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if v == "" {
			if _, ok := out[k]; ok {
				continue
			}
		}
		out[k] = v
	}
	return out
}

// ExtractTokens collects every <input> that is either type=hidden or has no
// type at all. The key is the name attribute, or the id when there is no name.
// The first occurrence of a key wins. Unparseable input yields an empty set.
func ExtractTokens(html string) TokenSet {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return TokenSet{}
	}
	return extractTokens(doc)
}

func extractTokens(doc *goquery.Document) TokenSet {
	tokens := TokenSet{}
	doc.Find("input").Each(func(_ int, s *goquery.Selection) {
		inputType, hasType := s.Attr("type")
		if hasType && !strings.EqualFold(strings.TrimSpace(inputType), "hidden") {
			return
		}
		key, ok := s.Attr("name")
		if !ok || key == "" {
			key, ok = s.Attr("id")
		}
		if !ok || key == "" {
			return
		}
		if _, exists := tokens[key]; exists {
			return
		}
		tokens[key] = s.AttrOr("value", "")
	})
	return tokens
}
