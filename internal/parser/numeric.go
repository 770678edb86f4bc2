package parser

import (
	"strconv"
	"strings"
)

// parseNumber drops every ',' and '.' before parsing, so both act as
// grouping marks: "13,168" and "13.168" are 13168. A decimal such as
// "13.5" becomes 135; alerts are quoted in whole points.
func parseNumber(token string) (float64, error) {
	digits := strings.NewReplacer(",", "", ".", "").Replace(token)
	return strconv.ParseFloat(digits, 64)
}

var countTokens = []struct {
	token string
	n     int
}{
	{"1", 1}, {"2", 2}, {"3", 3}, {"4", 4},
	{"ONE", 1}, {"TWO", 2}, {"THREE", 3}, {"FOUR", 4},
	{"BOTH", 2},
}

// tradeCount finds the leftmost count token that is not followed by
// another digit.
func tradeCount(text string) (int, bool) {
	for i := 0; i < len(text); i++ {
		for _, c := range countTokens {
			if !strings.HasPrefix(text[i:], c.token) {
				continue
			}
			end := i + len(c.token)
			if end < len(text) && isDigit(text[end]) {
				continue
			}
			return c.n, true
		}
	}
	return 0, false
}
