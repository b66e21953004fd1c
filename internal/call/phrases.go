package call

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// phraseSimilarity is the Jaro-Winkler score at which two phrases match.
const phraseSimilarity = 0.92

// fuzzyMinLen is the shortest phrase compared fuzzily. Shorter phrases must
// match exactly ("by" must not count as "bye").
const fuzzyMinLen = 5

// normalizeWords lower-cases s, strips punctuation and splits it into words.
func normalizeWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// collapseRepeats folds runs of the same letter, so "ummm" and "um" compare
// equal.
func collapseRepeats(w string) string {
	var b strings.Builder
	var prev rune
	for i, r := range w {
		if i > 0 && r == prev {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// IsFiller reports whether text consists only of filler words such as "uh"
// or "hmm". Empty text counts as filler.
func IsFiller(text string, fillers []string) bool {
	set := make(map[string]struct{}, len(fillers))
	for _, f := range fillers {
		for _, w := range normalizeWords(f) {
			set[collapseRepeats(w)] = struct{}{}
		}
	}
	for _, w := range normalizeWords(text) {
		if _, ok := set[collapseRepeats(w)]; !ok {
			return false
		}
	}
	return true
}

// ContainsPhrase reports whether any phrase occurs in text. Phrases of
// [fuzzyMinLen] or more characters also match near-misses, which absorbs
// transcription and spelling variants like "good bye" or "goodby".
func ContainsPhrase(text string, phrases []string) bool {
	words := normalizeWords(text)
	if len(words) == 0 {
		return false
	}
	for _, p := range phrases {
		pw := normalizeWords(p)
		if len(pw) == 0 {
			continue
		}
		target := strings.Join(pw, " ")
		// A window one word wider than the phrase catches split compounds.
		for n := len(pw); n <= len(pw)+1; n++ {
			for i := 0; i+n <= len(words); i++ {
				window := strings.Join(words[i:i+n], " ")
				if window == target {
					return true
				}
				if len(target) < fuzzyMinLen {
					continue
				}
				w, t := strings.ReplaceAll(window, " ", ""), strings.ReplaceAll(target, " ", "")
				if d := len(w) - len(t); d > 2 || d < -2 {
					continue
				}
				if matchr.JaroWinkler(window, target, false) >= phraseSimilarity ||
					matchr.JaroWinkler(w, t, false) >= phraseSimilarity {
					return true
				}
			}
		}
	}
	return false
}
