package source

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseInstallmentNumber keeps only the ASCII digits of label and parses them.
// "Chapter 120" and "ตอนที่ 120" both yield 120.
func ParseInstallmentNumber(label string) (int, bool) {
	var b strings.Builder
	for _, r := range label {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

// labelAfter returns the text after the last occurrence of prefix (case-insensitive),
// or the whole label when prefix is empty or absent. Candidates are compared in
// place with strings.EqualFold, so case folding never shifts the cut.
func labelAfter(label, prefix string) string {
	if prefix == "" {
		return label
	}
	n := utf8.RuneCountInString(prefix)
	for i := len(label); i >= 0; i-- {
		if i < len(label) && !utf8.RuneStart(label[i]) {
			continue
		}
		j := i
		for k := 0; k < n && j < len(label); k++ {
			_, size := utf8.DecodeRuneInString(label[j:])
			j += size
		}
		if strings.EqualFold(label[i:j], prefix) {
			return label[j:]
		}
	}
	return label
}
