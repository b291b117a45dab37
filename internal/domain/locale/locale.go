package locale

import "strings"

// Locale is one of the display languages templates are written in.
type Locale string

const (
	English Locale = "en"
	Spanish Locale = "es"
	Catalan Locale = "ca"
)

// Default is used when no member is known or the country is unrecognised.
const Default = English

// All lists every supported locale in a stable order.
var All = []Locale{English, Spanish, Catalan}

var spanishMarkers = []string{"spain", "españa", "espana"}

var catalanMarkers = []string{"catalunya", "cataluña", "catalonia", "catalan", "català"}

// CountryHolder is anything that can report a free-text country string.
type CountryHolder interface {
	CountryName() string
}

// Resolve picks the display language for a member from its country string.
// PRE: holder may be nil
// POST: Always returns one of All; never fails
func Resolve(holder CountryHolder) Locale {
	if holder == nil {
		return Default
	}
	return FromCountry(holder.CountryName())
}

// FromCountry matches lower-cased substrings of a country string.
// Spanish markers are checked first, so "Barcelona, Spain" resolves to es.
func FromCountry(country string) Locale {
	c := strings.ToLower(strings.TrimSpace(country))
	if c == "" {
		return Default
	}
	for _, m := range spanishMarkers {
		if strings.Contains(c, m) {
			return Spanish
		}
	}
	for _, m := range catalanMarkers {
		if strings.Contains(c, m) {
			return Catalan
		}
	}
	return Default
}

// Valid reports whether l is a supported locale.
func (l Locale) Valid() bool {
	for _, known := range All {
		if l == known {
			return true
		}
	}
	return false
}

func (l Locale) String() string { return string(l) }
