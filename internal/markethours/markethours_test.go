package markethours

import (
	"testing"
	"time"
)

func TestNYSEIsOpen(t *testing.T) {
	s, err := NYSE()
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	ny := s.Location

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", time.Date(2025, 6, 2, 9, 29, 0, 0, ny), false},
		{"at open", time.Date(2025, 6, 2, 9, 30, 0, 0, ny), true},
		{"midday", time.Date(2025, 6, 4, 12, 0, 0, 0, ny), true},
		{"at close", time.Date(2025, 6, 2, 16, 0, 0, 0, ny), false},
		{"saturday", time.Date(2025, 6, 7, 12, 0, 0, 0, ny), false},
		{"utc input", time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC), true},
		{"winter utc input", time.Date(2025, 1, 6, 14, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.IsOpen(tc.at); got != tc.want {
				t.Fatalf("IsOpen(%s) = %t, want %t", tc.at, got, tc.want)
			}
		})
	}
}

func TestNYSENextOpen(t *testing.T) {
	s, err := NYSE()
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	friday := time.Date(2025, 6, 6, 17, 0, 0, 0, s.Location)
	want := time.Date(2025, 6, 9, 9, 30, 0, 0, s.Location)
	if got := s.NextOpen(friday); !got.Equal(want) {
		t.Fatalf("next open after Friday close = %s, want %s", got, want)
	}

	morning := time.Date(2025, 6, 3, 8, 0, 0, 0, s.Location)
	if got := s.NextOpen(morning); !got.Equal(time.Date(2025, 6, 3, 9, 30, 0, 0, s.Location)) {
		t.Fatalf("next open same day = %s", got)
	}
}
