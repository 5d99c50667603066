// Package matcher classifies post text as a request for a cat picture.
//
// The trigger alternations are literal Korean phrases: a cat word followed by
// "필요" (need), "우울해/우울하/우울한" (depressed), the "냐짤" meme token, and
// inflections of "죽고 싶다" / "살기 싫다". A trigger that also ends with
// "필요" is an addict signal: the repeated "I need a cat" request that the rate
// limiter counts.
package matcher

import "regexp"

// Class is the result of classifying a piece of text.
type Class int

const (
	// None means the text contains no trigger phrase.
	None Class = iota
	// WantsCat means the text contains a trigger phrase.
	WantsCat
	// AddictSignal means the text contains a trigger phrase and ends with "필요".
	AddictSignal
)

// String returns the lowercase name of the class for logging.
func (c Class) String() string {
	switch c {
	case WantsCat:
		return "wants_cat"
	case AddictSignal:
		return "addict_signal"
	default:
		return "none"
	}
}

// Wants reports whether the class should be answered at all.
func (c Class) Wants() bool { return c != None }

var (
	// triggerRe matches any trigger phrase. ".*" stops at a line break, so a
	// cat word and "need" must share a line. (?i) keeps the pattern case
	// tolerant for any latin text mixed into a post.
	triggerRe = regexp.MustCompile(`(?i)` +
		`(?:고양이|야옹이|냐옹이|냥이).*필요|` +
		`우울[해하한]|` +
		`냐짤|` +
		`(?:죽고\s*싶|살기\s*싫)[어네다]`)

	// addictRe matches text ending with the "need" morpheme.
	addictRe = regexp.MustCompile(`필요$`)
)

// Classify returns the [Class] of text. The input is expected to be plain text
// already stripped of markup and links.
func Classify(text string) Class {
	if !triggerRe.MatchString(text) {
		return None
	}
	if addictRe.MatchString(text) {
		return AddictSignal
	}
	return WantsCat
}
