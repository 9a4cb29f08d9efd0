// Package transcript corrects speech-to-text output against a configured
// vocabulary of domain terms.
//
// Vietnamese STT models frequently drop or confuse diacritics and split
// proper nouns ("đà nẳng" for "Đà Nẵng", "vin mec" for "Vinmec"). The
// corrector scans the transcript with n-gram windows up to the longest
// vocabulary phrase and snaps each window to the closest vocabulary entry
// when it is similar enough:
//
//  1. Diacritic-folded equality — the window matches an entry exactly after
//     lowercasing and stripping tone marks. Accepted with confidence 1.
//  2. Edit-distance match — the folded forms are within the configured
//     Damerau-Levenshtein distance and clear the edit threshold.
//  3. Fuzzy fallback — no edit match, but Jaro-Winkler similarity of the
//     folded forms clears the higher fuzzy threshold.
//
// Longer windows take precedence so multi-word entries beat partial
// single-word matches.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultEditThreshold  = 0.80
	defaultFuzzyThreshold = 0.92
	defaultMaxEditDist    = 2
)

// Correction records one replacement applied to a transcript.
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithEditThreshold sets the minimum Jaro-Winkler score required for a
// window that is within edit distance of an entry. Default: 0.80.
func WithEditThreshold(t float64) Option {
	return func(c *Corrector) { c.editThreshold = t }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when the
// window is not within edit distance of any entry. Default: 0.92.
func WithFuzzyThreshold(t float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = t }
}

// WithMaxEditDistance sets the maximum Damerau-Levenshtein distance between
// folded forms for the edit-distance stage. Default: 2.
func WithMaxEditDistance(n int) Option {
	return func(c *Corrector) { c.maxEditDist = n }
}

type vocabEntry struct {
	canonical string
	// folded is the diacritic-stripped lowercase form with spaces removed,
	// so "đà nẳng" and "đànẵng" both land on "danang".
	folded string
	words  int
}

// Corrector snaps transcript windows to vocabulary entries. It is read-only
// after construction and safe for concurrent use.
type Corrector struct {
	entries        []vocabEntry
	maxWords       int
	editThreshold  float64
	fuzzyThreshold float64
	maxEditDist    int
}

// NewCorrector prepares vocabulary for matching. Empty entries are dropped.
func NewCorrector(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		editThreshold:  defaultEditThreshold,
		fuzzyThreshold: defaultFuzzyThreshold,
		maxEditDist:    defaultMaxEditDist,
		maxWords:       1,
	}
	for _, o := range opts {
		o(c)
	}
	for _, v := range vocabulary {
		canonical := strings.TrimSpace(v)
		if canonical == "" {
			continue
		}
		words := len(strings.Fields(canonical))
		c.entries = append(c.entries, vocabEntry{
			canonical: canonical,
			folded:    foldKey(canonical),
			words:     words,
		})
		if words > c.maxWords {
			c.maxWords = words
		}
	}
	// One extra window word catches entries the STT split apart.
	c.maxWords++
	return c
}

// Correct returns text with vocabulary terms snapped to their canonical
// spelling, plus the corrections applied. Text without matches is returned
// unchanged.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if len(c.entries) == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := c.maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1 && !matched; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			prefix, core, suffix := splitPunct(window)
			if core == "" {
				continue
			}
			canonical, conf, ok := c.match(core, n)
			if !ok {
				continue
			}
			output = append(output, strings.Fields(prefix+canonical+suffix)...)
			if core != canonical {
				corrections = append(corrections, Correction{
					Original:   core,
					Corrected:  canonical,
					Confidence: conf,
				})
			}
			i += n
			matched = true
		}
		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// match returns the best vocabulary entry for the window, or ok=false when
// no entry clears its threshold. windowWords guards the fuzzy stage: a
// window with more words than the entry may only match within edit
// distance, otherwise a high prefix similarity could swallow the extra word.
func (c *Corrector) match(window string, windowWords int) (canonical string, confidence float64, ok bool) {
	folded := foldKey(window)
	if folded == "" {
		return "", 0, false
	}

	var best vocabEntry
	var bestScore float64
	var bestEdit bool

	for _, e := range c.entries {
		if folded == e.folded {
			return e.canonical, 1, true
		}
		score := matchr.JaroWinkler(folded, e.folded, false)
		editMatch := matchr.DamerauLevenshtein(folded, e.folded) <= c.maxEditDist
		switch {
		case editMatch && score >= c.editThreshold:
			if !bestEdit || score > bestScore {
				best, bestScore, bestEdit = e, score, true
			}
		case !bestEdit && windowWords <= e.words && score >= c.fuzzyThreshold:
			if score > bestScore {
				best, bestScore = e, score
			}
		}
	}

	if best.canonical == "" {
		return "", 0, false
	}
	return best.canonical, bestScore, true
}

// splitPunct separates leading and trailing punctuation from a window so
// "Huế," matches the entry "Huế" and the comma survives.
func splitPunct(s string) (prefix, core, suffix string) {
	start := 0
	for start < len(s) {
		r, size := utf8.DecodeRuneInString(s[start:])
		if !unicode.IsPunct(r) {
			break
		}
		start += size
	}
	end := len(s)
	for end > start {
		r, size := utf8.DecodeLastRuneInString(s[start:end])
		if !unicode.IsPunct(r) {
			break
		}
		end -= size
	}
	return s[:start], s[start:end], s[end:]
}

// vietnameseFold maps lowercase Vietnamese letters to their base form.
var vietnameseFold = map[rune]rune{
	'à': 'a', 'á': 'a', 'ả': 'a', 'ã': 'a', 'ạ': 'a',
	'ă': 'a', 'ằ': 'a', 'ắ': 'a', 'ẳ': 'a', 'ẵ': 'a', 'ặ': 'a',
	'â': 'a', 'ầ': 'a', 'ấ': 'a', 'ẩ': 'a', 'ẫ': 'a', 'ậ': 'a',
	'è': 'e', 'é': 'e', 'ẻ': 'e', 'ẽ': 'e', 'ẹ': 'e',
	'ê': 'e', 'ề': 'e', 'ế': 'e', 'ể': 'e', 'ễ': 'e', 'ệ': 'e',
	'ì': 'i', 'í': 'i', 'ỉ': 'i', 'ĩ': 'i', 'ị': 'i',
	'ò': 'o', 'ó': 'o', 'ỏ': 'o', 'õ': 'o', 'ọ': 'o',
	'ô': 'o', 'ồ': 'o', 'ố': 'o', 'ổ': 'o', 'ỗ': 'o', 'ộ': 'o',
	'ơ': 'o', 'ờ': 'o', 'ớ': 'o', 'ở': 'o', 'ỡ': 'o', 'ợ': 'o',
	'ù': 'u', 'ú': 'u', 'ủ': 'u', 'ũ': 'u', 'ụ': 'u',
	'ư': 'u', 'ừ': 'u', 'ứ': 'u', 'ử': 'u', 'ữ': 'u', 'ự': 'u',
	'ỳ': 'y', 'ý': 'y', 'ỷ': 'y', 'ỹ': 'y', 'ỵ': 'y',
	'đ': 'd',
}

// Fold lowercases s and strips Vietnamese diacritics.
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if base, ok := vietnameseFold[r]; ok {
			r = base
		}
		b.WriteRune(r)
	}
	return b.String()
}

// foldKey is Fold with spaces removed, the comparison key for matching.
func foldKey(s string) string {
	return strings.ReplaceAll(Fold(s), " ", "")
}
