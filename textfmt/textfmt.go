// Package textfmt reassembles streamed tokens into readable prose.
//
// Upstream tokens lose their surrounding whitespace on the wire, so spacing
// and paragraph breaks are reconstructed from the characters on either side
// of each join. The rules are heuristics: a word split across two tokens
// ("Hel" + "lo") is joined with a space. That is an accepted limitation.
package textfmt

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const paragraphBreak = "\n\n"

// Append joins next onto accumulated. It is pure and deterministic, and is
// called once per token in arrival order.
func Append(accumulated, next string) string {
	if strings.TrimSpace(next) == "" {
		return accumulated
	}
	if accumulated == "" {
		return next
	}

	last, _ := utf8.DecodeLastRuneInString(accumulated)
	first, _ := utf8.DecodeRuneInString(next)

	if isSentenceEnd(last) && isUpperASCII(first) && !strings.HasSuffix(accumulated, paragraphBreak) {
		return accumulated + paragraphBreak + next
	}

	if isAlnum(last) && isAlnum(first) && !endsWithSeparator(accumulated) {
		return accumulated + " " + next
	}

	return accumulated + next
}

// Fold applies Append over tokens from an empty start. Replaying the same
// sequence always reproduces the same text.
func Fold(tokens []string) string {
	var text string
	for _, tok := range tokens {
		text = Append(text, tok)
	}
	return text
}

// Normalize is the batch cleanup pass run over a fully assembled reply:
//   - whitespace runs without a newline collapse to one space, runs holding
//     newlines collapse to a single line break or one paragraph break
//   - a comma directly followed by a non-space gets a space (digit groups
//     such as 1,000 are left alone)
//   - sentence punctuation directly followed by an uppercase letter gets a
//     paragraph break
//
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = collapseWhitespace(s)
	s = spaceAfterCommas(s)
	return breakSentences(s)
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	runes := []rune(s)
	for i := 0; i < len(runes); {
		if !unicode.IsSpace(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}

		j := i
		newlines := 0
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			if runes[j] == '\n' {
				newlines++
			}
			j++
		}

		switch {
		case newlines >= 2:
			b.WriteString(paragraphBreak)
		case newlines == 1:
			b.WriteByte('\n')
		case j-i >= 2:
			b.WriteByte(' ')
		default:
			b.WriteRune(runes[i])
		}
		i = j
	}

	return b.String()
}

func spaceAfterCommas(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)

	for i, r := range runes {
		b.WriteRune(r)
		if r != ',' || i+1 >= len(runes) {
			continue
		}
		next := runes[i+1]
		if unicode.IsSpace(next) {
			continue
		}
		if i > 0 && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(next) {
			continue
		}
		b.WriteByte(' ')
	}

	return b.String()
}

func breakSentences(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)

	for i, r := range runes {
		b.WriteRune(r)
		if i+1 < len(runes) && isSentenceEnd(r) && isUpperASCII(runes[i+1]) {
			b.WriteString(paragraphBreak)
		}
	}

	return b.String()
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isUpperASCII(r rune) bool {
	return r >= 'A' && r <= 'Z'
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func endsWithSeparator(s string) bool {
	last, _ := utf8.DecodeLastRuneInString(s)
	return unicode.IsSpace(last) || strings.ContainsRune(",.!?;:", last)
}
