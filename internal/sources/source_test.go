package sources

import "testing"

func TestSourceName(t *testing.T) {
	cases := []struct {
		name string
		src  Source
		want string
	}{
		{"posix path", Source{absolutePath: "/work/src/app.js"}, "app.js"},
		{"windows path", Source{absolutePath: `C:\work\src\app.js`}, "app.js"},
		{"url", Source{url: "http://localhost/assets/bundle.js"}, "bundle.js"},
		{"url with trailing slash", Source{url: "http://localhost/assets/"}, "assets"},
		{"no path or url", Source{}, "<eval>"},
	}
	for i := range cases {
		tc := &cases[i]
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.src.Name(); got != tc.want {
				t.Errorf("Name() = %q, want %q", got, tc.want)
			}
		})
	}
}
