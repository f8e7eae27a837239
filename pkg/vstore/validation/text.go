package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
)

// Policy decides whether batch validation reports every violation of an element or
// only the first one found. Binary checks are always fail-fast.
type Policy int

const (
	Aggregate Policy = iota
	FailFast
)

// ParsePolicy parses "aggregate" or "failfast".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "")) {
	case "", "aggregate":
		return Aggregate, nil
	case "failfast":
		return FailFast, nil
	}
	return Aggregate, fmt.Errorf("unknown validation policy %q", s)
}

func (p Policy) String() string {
	if p == FailFast {
		return "failfast"
	}
	return "aggregate"
}

// ValidateText checks a plain or formatted text value. It returns nil or an *ElementError.
func ValidateText(templateCode int, c descriptors.TextElementConstraints, raw string, policy Policy) error {
	text := normalizeNewlines(raw)
	var root *html.Node
	if c.IsFormatted {
		var err error
		root, err = ParseMarkup(raw)
		if err != nil {
			return fmt.Errorf("parse markup of element %d: %w", templateCode, err)
		}
		text = PlainText(root)
	}

	if strings.TrimSpace(text) == "" {
		if c.IsMandatory {
			return NewElementError(templateCode, &ElementIsMandatoryError{})
		}
		return nil
	}

	var errs []Error
	// add records a violation and reports whether checking should stop.
	add := func(e Error) bool {
		errs = append(errs, e)
		return policy == FailFast
	}
	result := func() error {
		if len(errs) == 0 {
			return nil
		}
		return NewElementError(templateCode, errs...)
	}

	if c.MaxSymbols != nil {
		if n := utf8.RuneCountInString(strings.ReplaceAll(text, "\n", "")); n > *c.MaxSymbols {
			if add(&TextTooLongError{MaxSymbols: *c.MaxSymbols, Actual: n}) {
				return result()
			}
		}
	}

	words := splitWords(text)
	if c.MinSymbolsPerWord != nil {
		if short := filterWords(words, func(n int) bool { return n < *c.MinSymbolsPerWord }); len(short) > 0 {
			if add(&WordsTooShortError{MinSymbolsPerWord: *c.MinSymbolsPerWord, Words: short}) {
				return result()
			}
		}
	}
	if c.MaxSymbolsPerWord != nil {
		if long := filterWords(words, func(n int) bool { return n > *c.MaxSymbolsPerWord }); len(long) > 0 {
			if add(&WordsTooLongError{MaxSymbolsPerWord: *c.MaxSymbolsPerWord, Words: long}) {
				return result()
			}
		}
	}
	if c.MaxLines != nil {
		if n := strings.Count(text, "\n") + 1; n > *c.MaxLines {
			if add(&TooManyLinesError{MaxLines: *c.MaxLines, Actual: n}) {
				return result()
			}
		}
	}

	if root != nil {
		if tags := FindUnsupportedTags(root, SupportedTags); len(tags) > 0 {
			if add(&UnsupportedTagsError{Tags: tags}) {
				return result()
			}
		}
		if FindUnsupportedListElement(root, SupportedListElements) {
			add(&UnsupportedMarkupElementError{})
		}
	}
	return result()
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}

// splitWords splits on whitespace and trims surrounding punctuation.
func splitWords(text string) []string {
	var words []string
	for _, f := range strings.Fields(text) {
		w := strings.TrimFunc(f, unicode.IsPunct)
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

func filterWords(words []string, match func(length int) bool) []string {
	var out []string
	for _, w := range words {
		if match(utf8.RuneCountInString(w)) {
			out = append(out, w)
		}
	}
	return out
}
