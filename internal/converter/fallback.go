package converter

import "strings"

// prefixRewrite is one (match, replacement) pair of the prefecture fallback
// table
type prefixRewrite struct {
	match   string
	replace string
}

// prefectureRewrites is the ordered fallback table applied when the original
// prefecture label is not exposed by the site. Only the first matching
// prefix is rewritten, and only once: districts promoted or reorganized in
// the 2025 merger are most commonly re-listed under "Thị xã".
var prefectureRewrites = []prefixRewrite{
	{"Huyện ", "Thị xã "},
	{"Thành phố ", "Thị xã "},
	{"Quận ", "Thị xã "},
}

// FallbackLabel rewrites a recognized administrative-division prefix and
// returns the substituted label. Returns false when no prefix of the table
// matches or the rewrite would not change the label.
func FallbackLabel(name string) (string, bool) {
	for _, rw := range prefectureRewrites {
		if strings.HasPrefix(name, rw.match) {
			rewritten := rw.replace + strings.TrimPrefix(name, rw.match)
			if rewritten == name {
				return "", false
			}
			return rewritten, true
		}
	}
	return "", false
}
