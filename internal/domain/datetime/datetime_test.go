package datetime

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want time.Time
	}{
		{"rfc3339", "2024-03-01T10:20:30Z", want},
		{"offset", "2024-03-01T12:20:30+02:00", want},
		{"storage", "2024-03-01 10:20:30.000", want},
		{"no millis", "2024-03-01 10:20:30", want},
		{"no zone", "2024-03-01T10:20:30", want},
		{"date only", "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"time value", want, want},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	for _, bad := range []any{"tomorrow", 42, nil} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%#v): expected error", bad)
		}
	}
}

func TestConversions(t *testing.T) {
	s, err := ToStorage("2024-03-01T12:20:30.5+02:00")
	if err != nil {
		t.Fatalf("to storage: %v", err)
	}
	if s != "2024-03-01 10:20:30.500" {
		t.Errorf("storage = %q", s)
	}
	a, err := ToAPI(s)
	if err != nil {
		t.Fatalf("to api: %v", err)
	}
	if a != "2024-03-01T10:20:30.500Z" {
		t.Errorf("api = %q", a)
	}
	if _, err := ToStorage("nope"); err == nil {
		t.Error("expected error")
	}
	if Format(time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))) != "2024-01-02T02:04:05.000Z" {
		t.Error("Format must convert to UTC")
	}
	if _, err := Parse(Now()); err != nil {
		t.Errorf("Now() must parse: %v", err)
	}
}
