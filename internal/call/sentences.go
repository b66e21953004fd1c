package call

import "strings"

// SentenceSplitter cuts a streamed LLM reply into speakable fragments. A
// fragment ends at '.', '!' or '?' followed by whitespace. Fragments shorter
// than the minimum are held and prefixed to the next one so TTS never gets
// a lone "Ok." or "1." on its own.
type SentenceSplitter struct {
	minChars int
	buf      strings.Builder
	carry    string
}

// NewSentenceSplitter returns a splitter that emits fragments of at least
// minChars characters, except for the final flush.
func NewSentenceSplitter(minChars int) *SentenceSplitter {
	return &SentenceSplitter{minChars: minChars}
}

// Push appends streamed text and returns every fragment completed by it.
func (s *SentenceSplitter) Push(text string) []string {
	s.buf.WriteString(text)
	var out []string
	for {
		cur := s.buf.String()
		idx := firstSentenceBoundary(cur)
		if idx < 0 {
			return out
		}
		sentence := strings.TrimSpace(cur[:idx+1])
		rest := strings.TrimLeft(cur[idx+1:], " \t\n\r")
		s.buf.Reset()
		s.buf.WriteString(rest)

		if s.carry != "" {
			sentence = s.carry + " " + sentence
			s.carry = ""
		}
		if len([]rune(sentence)) < s.minChars {
			s.carry = sentence
			continue
		}
		out = append(out, sentence)
	}
}

// Flush returns whatever is left, including a held short fragment. It
// returns "" when nothing remains.
func (s *SentenceSplitter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if s.carry != "" {
		rest = strings.TrimSpace(s.carry + " " + rest)
		s.carry = ""
	}
	return rest
}

// firstSentenceBoundary returns the index of the first '.', '!' or '?' that
// is immediately followed by whitespace, or -1.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
