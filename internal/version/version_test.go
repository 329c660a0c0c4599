package version

import "testing"

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"0.1.0", "0.2.0", -1},
		{"1.2.3", "1.2.2", 1},
		{"v1.0.0", "1.0.0", 0},
		{"1.0.0-beta", "1.0.0", 0},
		{"0.9.9", "1.0.0", -1},
		{"1.0", "1.0.1", -1},
	}
	for _, c := range cases {
		if got := Compare(c.a, c.b); got != c.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestUpdateMessage(t *testing.T) {
	var nilInfo *UpdateInfo
	if nilInfo.Message() != "" {
		t.Error("nil info should produce no message")
	}
	if (&UpdateInfo{Error: "offline"}).Message() != "" {
		t.Error("failed checks should produce no message")
	}
	if (&UpdateInfo{UpdateAvailable: false}).Message() != "" {
		t.Error("up-to-date should produce no message")
	}
	info := &UpdateInfo{
		CurrentVersion:  "0.1.0",
		LatestVersion:   "0.2.0",
		UpdateAvailable: true,
		ReleaseURL:      "https://example.com/r/0.2.0",
	}
	if msg := info.Message(); msg == "" {
		t.Error("available update should produce a message")
	}
}
