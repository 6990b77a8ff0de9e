package dialogue

import "strings"

// terminal punctuation closing a sentence outright.
func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '\n', '。', '！', '？':
		return true
	}
	return false
}

func isComma(r rune) bool {
	return r == ',' || r == '，'
}

// Segmenter cuts streamed reply text into speakable pieces so synthesis can
// start before the model finishes. Terminal punctuation always closes a
// piece; a comma closes one once the buffer is long enough; anything is cut
// at the max length.
type Segmenter struct {
	min int
	max int
	buf []rune
}

func NewSegmenter(min, max int) *Segmenter {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	return &Segmenter{min: min, max: max}
}

// Push appends one delta and returns any completed sentences, in order.
func (s *Segmenter) Push(delta string) []string {
	var out []string
	for _, r := range delta {
		s.buf = append(s.buf, r)
		switch {
		case isTerminal(r):
			out = s.cut(out)
		case isComma(r) && len(s.buf) >= s.min:
			out = s.cut(out)
		case len(s.buf) >= s.max:
			out = s.cut(out)
		}
	}
	return out
}

// Flush returns the trailing remainder after the stream ends. Empty string
// when nothing is buffered.
func (s *Segmenter) Flush() string {
	t := strings.TrimSpace(string(s.buf))
	s.buf = s.buf[:0]
	return t
}

func (s *Segmenter) cut(out []string) []string {
	t := strings.TrimSpace(string(s.buf))
	s.buf = s.buf[:0]
	if t != "" {
		out = append(out, t)
	}
	return out
}
