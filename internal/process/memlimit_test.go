package process

import "testing"

func TestParseMemoryLimit(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"100", 100, false},
		{"100M", 100, false},
		{"100m", 100, false},
		{"1G", 1024, false},
		{"2g", 2048, false},
		{"0", 0, false},
		{"", 0, true},
		{"G", 0, true},
		{"-5M", 0, true},
		{"5X", 0, true},
	}
	for _, c := range cases {
		got, err := ParseMemoryLimit(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseMemoryLimit(%q): expected error, got %d", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMemoryLimit(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseMemoryLimit(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
