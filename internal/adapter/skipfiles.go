package adapter

import (
	"regexp"
	"strings"
	"sync"
)

// SkipFiles tracks which script URLs are excluded from user-visible
// stepping and pausing: a base set of glob patterns plus per-URL
// toggles layered on top. The pattern set is pushed to the runtime as
// blackbox regexes; toggles are additionally honored at pause time,
// because blackboxing applies per script parse and a toggle can arrive
// after the script already loaded.
type SkipFiles struct {
	mu       sync.Mutex
	globs    []string
	patterns []*regexp.Regexp
	toggled  map[string]bool
}

// NewSkipFiles compiles the initial glob pattern set. Globs that fail
// to compile are dropped.
func NewSkipFiles(globs []string) *SkipFiles {
	s := &SkipFiles{toggled: make(map[string]bool)}
	for _, g := range globs {
		re, err := regexp.Compile(globToRegex(g))
		if err != nil {
			continue
		}
		s.globs = append(s.globs, g)
		s.patterns = append(s.patterns, re)
	}
	return s
}

// AddGlobs appends patterns to the base set.
func (s *SkipFiles) AddGlobs(globs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range globs {
		re, err := regexp.Compile(globToRegex(g))
		if err != nil {
			continue
		}
		s.globs = append(s.globs, g)
		s.patterns = append(s.patterns, re)
	}
}

// IsSkipped reports whether a script URL is currently skipped. An
// explicit toggle always wins over the pattern set.
func (s *SkipFiles) IsSkipped(url string) bool {
	if url == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.toggled[url]; ok {
		return v
	}
	return s.matchLocked(url)
}

// Toggle flips the skip status of one URL and returns the new status.
func (s *SkipFiles) Toggle(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.toggled[url]
	if !ok {
		cur = s.matchLocked(url)
	}
	s.toggled[url] = !cur
	return !cur
}

func (s *SkipFiles) matchLocked(url string) bool {
	for _, re := range s.patterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// Patterns returns the regex strings to push via
// Debugger.setBlackboxPatterns: the base pattern set plus every URL
// toggled on. URLs toggled off cannot be expressed as a coarse pattern
// subtraction; they are handled at pause time instead.
func (s *SkipFiles) Patterns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.globs)+len(s.toggled))
	for _, g := range s.globs {
		out = append(out, globToRegex(g))
	}
	for url, on := range s.toggled {
		if on {
			out = append(out, "^"+regexp.QuoteMeta(url)+"$")
		}
	}
	return out
}

// globToRegex converts a skip-file glob to an anchored regex:
// "**" spans path separators, "*" does not, "?" is one character.
func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		switch c := glob[i]; c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				b.WriteString(".*")
				i++
				// Collapse "**/" so it also matches zero directories.
				if i+1 < len(glob) && glob[i+1] == '/' {
					b.WriteString("/?")
					i++
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return b.String()
}
