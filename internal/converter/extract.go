// -----------------------------------------------------------------------
// Result extraction - layered matching over the rendered result section
// -----------------------------------------------------------------------

package converter

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// wardKeywords are the commune-level unit prefixes the site uses in its
// rendered result text
var wardKeywords = []string{"Phường", "Xã", "Thị trấn"}

// wardPattern matches a ward-level name followed eventually by a comma,
// e.g. "Phường Ngọc Hà, Thành phố Hà Nội"
var wardPattern = regexp.MustCompile(`(?:Phường|Xã|Thị trấn)[^,\n]+,`)

// minScanLength is the minimal rune count a candidate from the exhaustive
// scan must exceed to be accepted; shorter hits are dropdown noise
const minScanLength = 10

// ExtractLabels carries the label texts the extractor must recognize and
// exclude. Presentation detail, configured alongside the selectors.
type ExtractLabels struct {
	NewAddressLabel string // e.g. "Địa chỉ mới"
	CopyLabel       string // e.g. "Sao chép"
}

// ExtractNewName pulls the converted ward/commune name out of the rendered
// result section HTML. Strategies are tried in order until one yields text:
//
//  1. structural: the text adjacent to the "new address" label node
//  2. lenient: first ward-keyword+comma match anywhere in the section text
//  3. exhaustive: every leaf text node, same heuristic, minimum length
//
// The returned value is always the substring before the first comma,
// trimmed - the ward name without the trailing city qualifier.
func ExtractNewName(html string, labels ExtractLabels) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", &ExtractionFailedError{Reason: "result section is not parseable HTML"}
	}

	if name := extractByLabel(doc, labels); name != "" {
		return beforeComma(name), nil
	}
	if name := extractByPattern(doc.Text()); name != "" {
		return beforeComma(name), nil
	}
	if name := extractByScan(doc, labels); name != "" {
		return beforeComma(name), nil
	}

	return "", &ExtractionFailedError{Reason: "no strategy matched the rendered result"}
}

// extractByLabel finds the node whose own text equals the new-address label
// and takes the adjacent descriptive text, excluding nodes repeating the
// label or carrying the copy affordance.
func extractByLabel(doc *goquery.Document, labels ExtractLabels) string {
	var found string
	doc.Find("*").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if sel.Children().Length() > 0 {
			return true
		}
		if strings.TrimSpace(sel.Text()) != labels.NewAddressLabel {
			return true
		}
		// Walk siblings of the label, then siblings of its parent
		if t := adjacentText(sel, labels); t != "" {
			found = t
			return false
		}
		if t := adjacentText(sel.Parent(), labels); t != "" {
			found = t
			return false
		}
		return true
	})
	return found
}

func adjacentText(sel *goquery.Selection, labels ExtractLabels) string {
	for sib := sel.Next(); sib.Length() > 0; sib = sib.Next() {
		t := strings.TrimSpace(sib.Text())
		if t == "" {
			continue
		}
		if strings.Contains(t, labels.NewAddressLabel) || containsLabel(t, labels.CopyLabel) {
			continue
		}
		return t
	}
	return ""
}

// extractByPattern applies the ward-keyword heuristic to the full section
// text
func extractByPattern(text string) string {
	return strings.TrimSpace(wardPattern.FindString(text))
}

// extractByScan applies the keyword heuristic to every leaf text node,
// excluding label and copy noise and rejecting short false positives
func extractByScan(doc *goquery.Document, labels ExtractLabels) string {
	var found string
	doc.Find("*").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if sel.Children().Length() > 0 {
			return true
		}
		t := strings.TrimSpace(sel.Text())
		if t == "" || strings.Contains(t, labels.NewAddressLabel) || containsLabel(t, labels.CopyLabel) {
			return true
		}
		if !hasWardPrefix(t) {
			return true
		}
		match := wardPattern.FindString(t)
		if match == "" {
			return true
		}
		if utf8.RuneCountInString(beforeComma(match)) <= minScanLength {
			return true
		}
		found = match
		return false
	})
	return found
}

func hasWardPrefix(text string) bool {
	for _, kw := range wardKeywords {
		if strings.HasPrefix(text, kw) {
			return true
		}
	}
	return false
}

func containsLabel(text, label string) bool {
	return label != "" && strings.Contains(text, label)
}

// beforeComma returns the trimmed substring before the first comma
func beforeComma(text string) string {
	head, _, _ := strings.Cut(text, ",")
	return strings.TrimSpace(head)
}
