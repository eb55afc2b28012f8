package pipeline

import (
	"strings"
	"unicode/utf8"
)

// DefaultMinOverlap is the shortest shared run of characters, counted with
// its trailing separator, that is treated as duplicated wording.
const DefaultMinOverlap = 10

// Merge joins recognized results in index order with single spaces. When the
// head of a result repeats the tail of the previous recognized result by at
// least minOverlap characters on word boundaries, the repeated words are
// dropped. Unrecognized results are skipped without resetting the previous
// text. The output depends only on the ordered input.
func Merge(results []Result, minOverlap int) string {
	if minOverlap < 1 {
		minOverlap = DefaultMinOverlap
	}

	var parts []string
	prev := ""
	for _, r := range results {
		if !r.Recognized {
			continue
		}
		text := strings.Join(strings.Fields(r.Text), " ")
		if text == "" {
			continue
		}

		add := text
		if prev != "" {
			if n, chars := overlap(prev, text); chars >= minOverlap {
				add = strings.TrimSpace(text[min(n, len(text)):])
			}
		}
		if add != "" {
			parts = append(parts, add)
		}
		prev = text
	}
	return strings.Join(parts, " ")
}

// overlap finds the longest run of whole words that ends prev and starts
// text. It returns the byte length of that run within text and its length in
// characters including one separating space.
func overlap(prev, text string) (int, int) {
	a := prev + " "
	b := text + " "
	for k := min(len(a), len(b)); k > 0; k-- {
		if a[len(a)-k:] != b[:k] {
			continue
		}
		// Start of the match in prev must be a word start.
		if k < len(a) && a[len(a)-k-1] != ' ' {
			continue
		}
		return k, utf8.RuneCountInString(b[:k])
	}
	return 0, 0
}
