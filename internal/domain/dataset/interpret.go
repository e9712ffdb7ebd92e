package dataset

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// columnListRe finds a column list introduced by a keyword ("columns",
// "where", "где") or a bare colon. The word boundaries keep "columns" from
// backtracking to "column" and swallowing the trailing "s", and keep
// "where" from matching inside "somewhere". Go's \b is ASCII-only, so the
// Cyrillic keyword goes without one.
var columnListRe = regexp.MustCompile(`(?i)(?:(?:где|\bwhere\b|\bcolumns?\b)\s*:?|:)\s*([\p{L}\p{N}_ ,]+)`)

var columnSplitRe = regexp.MustCompile(`[,\s]+`)

// ExtractRowCount returns the first standalone run of decimal digits in
// prompt as the target row count. The first number always wins, even when
// it belongs to something else ("ages over 30, 50 rows" yields 30).
// Absent, zero or out-of-range numbers yield DefaultRowCount.
func ExtractRowCount(prompt string) int {
	digits, ok := firstNumber(prompt)
	if !ok {
		return DefaultRowCount
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return DefaultRowCount
	}
	return NormalizeRowCount(n)
}

// ExtractColumns returns the column names listed after the first column
// list marker in prompt, trimmed and in order. Duplicates are kept.
// Without a marker, or when the list is empty, DefaultSchema is returned.
func ExtractColumns(prompt string) []string {
	m := columnListRe.FindStringSubmatch(prompt)
	if m == nil {
		return DefaultSchema()
	}
	var cols []string
	for _, tok := range columnSplitRe.Split(m[1], -1) {
		if tok = strings.TrimSpace(tok); tok != "" {
			cols = append(cols, tok)
		}
	}
	if len(cols) == 0 {
		return DefaultSchema()
	}
	return cols
}

// firstNumber finds the first digit run bounded on both sides by a
// non-word rune (or the string edge). Word runes are Unicode letters,
// digits and underscore, so "50rows" and "x50" do not count.
func firstNumber(s string) (string, bool) {
	prev := rune(-1)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if isDigit(r) && !isWordRune(prev) {
			j := i
			for j < len(s) && isDigit(rune(s[j])) {
				j++
			}
			next, _ := utf8.DecodeRuneInString(s[j:])
			if j == len(s) || !isWordRune(next) {
				return s[i:j], true
			}
			prev, _ = utf8.DecodeLastRuneInString(s[:j])
			i = j
			continue
		}
		prev = r
		i += size
	}
	return "", false
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
