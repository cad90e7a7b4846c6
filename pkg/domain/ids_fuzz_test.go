package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseAllocationID checks that parsing never panics and that accepted
// input round-trips.
func FuzzParseAllocationID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		parsed, err := ParseAllocationID(input)
		if err == nil {
			if parsed.IsNil() {
				t.Error("nil id accepted")
			}
			roundTrip, err2 := ParseAllocationID(parsed.String())
			if err2 != nil {
				t.Errorf("valid id failed round-trip: %v", err2)
			}
			if roundTrip != parsed {
				t.Error("round-trip changed id value")
			}
		}
		if !utf8.ValidString(input) && err == nil {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

func FuzzParseBloodGroup(f *testing.F) {
	f.Add("O-")
	f.Add("ab+")
	f.Add("C+")

	f.Fuzz(func(t *testing.T, input string) {
		g, err := ParseBloodGroup(input)
		if err == nil && !g.IsValid() {
			t.Errorf("accepted %q outside the allowlist", g)
		}
	})
}
