// Package segment splits long text into synthesizable chunks and classifies
// segments that carry no speakable content.
package segment

// Splitter divides text on sentence delimiters while capping segment
// length. Split is a pure function of the text and this configuration.
type Splitter struct {
	// Delimiters close a segment. Runs of consecutive delimiters stay
	// attached to the preceding clause.
	Delimiters string
	// SoftDelimiters are the break points searched backward from the
	// length cap when no delimiter appeared in time.
	SoftDelimiters string
	// MaxLen is the segment length cap in runes. Non-positive means
	// unbounded.
	MaxLen int
}

// Split divides text into segments. Concatenating the segments reproduces
// text exactly.
func (s Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}

	delims := runeSet(s.Delimiters)
	softs := runeSet(s.SoftDelimiters)
	maxLen := s.MaxLen
	if maxLen <= 0 {
		maxLen = int(^uint(0) >> 1)
	}

	runes := []rune(text)
	var segments []string
	var current []rune

	i := 0
	for i < len(runes) {
		r := runes[i]
		current = append(current, r)
		i++

		if delims[r] {
			for i < len(runes) && delims[runes[i]] {
				current = append(current, runes[i])
				i++
			}
			segments = append(segments, string(current))
			current = nil
			continue
		}

		if len(current) >= maxLen {
			cut := -1
			for j := len(current) - 1; j >= 0; j-- {
				if softs[current[j]] {
					cut = j + 1
					break
				}
			}
			if cut <= 0 {
				cut = len(current)
			}
			segments = append(segments, string(current[:cut]))
			current = append([]rune(nil), current[cut:]...)
		}
	}

	if len(current) > 0 {
		segments = append(segments, string(current))
	}
	return segments
}

func runeSet(s string) map[rune]bool {
	set := make(map[rune]bool, len(s))
	for _, r := range s {
		set[r] = true
	}
	return set
}
