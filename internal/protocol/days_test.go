package protocol

import "testing"

func TestEncodeDayMask(t *testing.T) {
	tests := []struct {
		name string
		spec DaySpec
		want uint8
	}{
		{"daily sentinel", Daily(), 0x7F},
		{"monday and friday", NamedDays("monday", "friday"), 0x11},
		{"explicit mask", MaskDays(0x55), 0x55},
		{"explicit mask high bit dropped", MaskDays(0xFF), 0x7F},
		{"case insensitive", NamedDays("Sunday", "SATURDAY"), 0x60},
		{"unknown ignored", NamedDays("monday", "funday"), 0x01},
		{"only unknown", NamedDays("someday"), 0x00},
		{"daily inside list", NamedDays("daily"), 0x7F},
		{"abbreviations", NamedDays("tue", "thu"), 0x0A},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeDayMask(tt.spec); got != tt.want {
				t.Errorf("EncodeDayMask = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

func TestUnknownDays(t *testing.T) {
	got := UnknownDays(NamedDays("monday", "funday", "daily", "caturday"))
	if len(got) != 2 || got[0] != "funday" || got[1] != "caturday" {
		t.Errorf("UnknownDays = %v, want [funday caturday]", got)
	}
	if UnknownDays(Daily()) != nil {
		t.Error("Daily() should report no unknown days")
	}
}

func TestParseDaySpec(t *testing.T) {
	tests := []struct {
		in   string
		want uint8
	}{
		{"daily", 0x7F},
		{" Every Day ", 0x7F},
		{"0x55", 0x55},
		{"17", 0x11},
		{"monday,friday", 0x11},
		{"mon, wed ,fri", 0x15},
	}
	for _, tt := range tests {
		spec, err := ParseDaySpec(tt.in)
		if err != nil {
			t.Errorf("ParseDaySpec(%q) error = %v", tt.in, err)
			continue
		}
		if got := EncodeDayMask(spec); got != tt.want {
			t.Errorf("ParseDaySpec(%q) mask = 0x%02X, want 0x%02X", tt.in, got, tt.want)
		}
	}
	if _, err := ParseDaySpec("  "); err == nil {
		t.Error("ParseDaySpec(blank) should fail")
	}
}

func TestDescribeDays(t *testing.T) {
	if got := DescribeDays(0x7F); got != "daily" {
		t.Errorf("DescribeDays(0x7F) = %q", got)
	}
	if got := DescribeDays(0x11); got != "Mon,Fri" {
		t.Errorf("DescribeDays(0x11) = %q", got)
	}
	if got := DescribeDays(0); got != "never" {
		t.Errorf("DescribeDays(0) = %q", got)
	}
}
