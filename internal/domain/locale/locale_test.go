package locale

import "testing"

type country string

func (c country) CountryName() string { return string(c) }

// TestResolve covers the country-string matching rules.
func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		holder CountryHolder
		want   Locale
	}{
		{"no member", nil, English},
		{"españa accented", country("España"), Spanish},
		{"spain english", country("Spain"), Spanish},
		{"upper case", country("SPAIN"), Spanish},
		{"catalunya", country("Barcelona, Catalunya"), Catalan},
		{"catalonia", country("Catalonia"), Catalan},
		{"unknown", country("New Zealand"), English},
		{"empty", country(""), English},
		{"whitespace", country("   "), English},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.holder); got != tt.want {
				t.Errorf("Resolve(%v) = %q, want %q", tt.holder, got, tt.want)
			}
		})
	}
}

// TestFromCountry_SpainWinsOverCatalonia documents the match order.
func TestFromCountry_SpainWinsOverCatalonia(t *testing.T) {
	if got := FromCountry("Catalunya, Spain"); got != Spanish {
		t.Errorf("got %q, want %q", got, Spanish)
	}
}

func TestLocale_Valid(t *testing.T) {
	for _, l := range All {
		if !l.Valid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if Locale("fr").Valid() {
		t.Error("fr should not be valid")
	}
}
