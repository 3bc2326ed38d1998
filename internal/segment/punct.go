package segment

import "unicode"

// IsPunctuationOnly reports whether s carries nothing speakable: every rune
// is punctuation, whitespace, a symbol, a control character, or a zero-width
// mark. Engines may reject or mis-handle such input, so consumers skip these
// segments instead of synthesizing them. The empty string counts as
// punctuation-only.
//
// The unicode categories cover ASCII punctuation, full-width space, CJK
// quotation and bracket pairs, dashes, ellipses, mathematical symbols and
// arrows; zero-width marks are format characters and get matched explicitly.
func IsPunctuationOnly(s string) bool {
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
		case unicode.IsPunct(r):
		case unicode.IsSymbol(r):
		case unicode.IsControl(r):
		case isZeroWidth(r):
		default:
			return false
		}
	}
	return true
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u00ad', // soft hyphen
		'\u034f', // combining grapheme joiner
		'\u180e', // mongolian vowel separator
		'\u200b', '\u200c', '\u200d', '\u200e', '\u200f', // zero-width space/joiners/marks
		'\u2060', // word joiner
		'\ufeff': // zero-width no-break space
		return true
	}
	// Variation selectors ride along with the glyph they modify.
	return r >= '\ufe00' && r <= '\ufe0f'
}
