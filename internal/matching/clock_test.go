package matching

import "testing"

func mustWindow(t *testing.T, start, end string) Window {
	t.Helper()
	w, err := NewWindow(start, end)
	if err != nil {
		t.Fatalf("NewWindow(%q, %q): %v", start, end, err)
	}
	return w
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"09:00", "09:00", false},
		{"9:00", "09:00", false},
		{" 17:30 ", "17:30", false},
		{"00:00", "00:00", false},
		{"23:59", "23:59", false},
		{"24:00", "", true},
		{"12:60", "", true},
		{"1200", "", true},
		{"12:5", "", true},
		{"ab:cd", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseClock(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	if _, err := ParseDate("2025-03-10"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, bad := range []string{"2025-3-10", "10/03/2025", "2025-02-30", ""} {
		if _, err := ParseDate(bad); err == nil {
			t.Errorf("ParseDate(%q) expected error", bad)
		}
	}
}

func TestNewWindow_RejectsInverted(t *testing.T) {
	if _, err := NewWindow("10:00", "10:00"); err == nil {
		t.Error("expected error for empty window")
	}
	if _, err := NewWindow("11:00", "10:00"); err == nil {
		t.Error("expected error for inverted window")
	}
}

func TestOverlaps(t *testing.T) {
	existing := mustWindow(t, "09:00", "12:00")
	tests := []struct {
		start, end string
		want       bool
	}{
		{"12:00", "13:00", false},
		{"08:00", "09:00", false},
		{"11:30", "12:30", true},
		{"08:00", "13:00", true},
		{"10:00", "11:00", true},
		{"8:30", "9:01", true},
	}
	for _, tt := range tests {
		cand := mustWindow(t, tt.start, tt.end)
		if got := Overlaps(existing, cand); got != tt.want {
			t.Errorf("Overlaps(09:00-12:00, %s) = %v, want %v", cand, got, tt.want)
		}
		if got := Overlaps(cand, existing); got != tt.want {
			t.Errorf("Overlaps not symmetric for %s", cand)
		}
	}
}

func TestConflicts_ReportsFirstClash(t *testing.T) {
	existing := []Window{
		mustWindow(t, "09:00", "11:00"),
		mustWindow(t, "11:00", "14:00"),
		mustWindow(t, "14:00", "17:00"),
	}
	if idx := FirstConflict(existing, mustWindow(t, "13:30", "14:30")); idx != 1 {
		t.Errorf("expected conflict with index 1, got %d", idx)
	}
	if Conflicts(existing, mustWindow(t, "17:00", "18:00")) {
		t.Error("touching window should not conflict")
	}
	if Conflicts(nil, mustWindow(t, "09:00", "10:00")) {
		t.Error("empty day should not conflict")
	}
}

func TestCovers(t *testing.T) {
	slot := mustWindow(t, "09:00", "12:00")
	tests := []struct {
		start, end string
		want       bool
	}{
		{"10:00", "10:30", true},
		{"09:00", "12:00", true},
		{"11:30", "12:30", false},
		{"08:59", "09:30", false},
	}
	for _, tt := range tests {
		req := mustWindow(t, tt.start, tt.end)
		if got := Covers(slot, req); got != tt.want {
			t.Errorf("Covers(09:00-12:00, %s) = %v, want %v", req, got, tt.want)
		}
	}
}

func TestInternalConflict(t *testing.T) {
	batch := []Window{
		mustWindow(t, "09:00", "10:00"),
		mustWindow(t, "10:00", "11:00"),
		mustWindow(t, "10:30", "12:00"),
	}
	i, j := InternalConflict(batch)
	if i != 1 || j != 2 {
		t.Errorf("expected (1, 2), got (%d, %d)", i, j)
	}
	i, j = InternalConflict(batch[:2])
	if i != -1 || j != -1 {
		t.Errorf("expected no conflict, got (%d, %d)", i, j)
	}
}
