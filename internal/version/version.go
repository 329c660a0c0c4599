// Package version carries the build version and an optional update
// check against the project's release feed.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Version is the current jsdap release.
const Version = "0.1.0"

const (
	repo       = "jsdap/jsdap"
	releaseAPI = "https://api.github.com/repos/%s/releases/latest"
)

// UpdateInfo is the outcome of one update check.
type UpdateInfo struct {
	CurrentVersion  string    `json:"currentVersion"`
	LatestVersion   string    `json:"latestVersion"`
	UpdateAvailable bool      `json:"updateAvailable"`
	ReleaseURL      string    `json:"releaseUrl,omitempty"`
	CheckedAt       time.Time `json:"checkedAt"`
	Error           string    `json:"error,omitempty"`
}

// Message returns a one-line notice when an update exists, empty
// otherwise.
func (u *UpdateInfo) Message() string {
	if u == nil || u.Error != "" || !u.UpdateAvailable {
		return ""
	}
	return fmt.Sprintf("jsdap v%s is available (running v%s): %s",
		u.LatestVersion, u.CurrentVersion, u.ReleaseURL)
}

// Checker performs and caches release lookups.
type Checker struct {
	mu   sync.Mutex
	info *UpdateInfo
}

func NewChecker() *Checker { return &Checker{} }

// Check queries the release feed once and caches the result. Network
// failures are reported in the result, never as a hard error.
func (c *Checker) Check(ctx context.Context) *UpdateInfo {
	info := &UpdateInfo{CurrentVersion: Version, CheckedAt: time.Now()}
	defer func() {
		c.mu.Lock()
		c.info = info
		c.mu.Unlock()
	}()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(releaseAPI, repo), nil)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "jsdap/"+Version)

	resp, err := client.Do(req)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		info.Error = fmt.Sprintf("release feed returned status %d", resp.StatusCode)
		return info
	}

	var release struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		info.Error = err.Error()
		return info
	}

	info.LatestVersion = strings.TrimPrefix(release.TagName, "v")
	info.ReleaseURL = release.HTMLURL
	info.UpdateAvailable = Compare(Version, info.LatestVersion) < 0
	return info
}

// Latest returns the cached result of the last Check, nil before one
// completed.
func (c *Checker) Latest() *UpdateInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Compare orders two dotted version strings: -1 when a < b, 0 when
// equal, 1 when a > b. Pre-release suffixes are ignored.
func Compare(a, b string) int {
	pa, pb := parse(a), parse(b)
	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func parse(v string) [3]int {
	var out [3]int
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	for i := 0; i < len(parts) && i < 3; i++ {
		n, _ := strconv.Atoi(strings.SplitN(parts[i], "-", 2)[0])
		out[i] = n
	}
	return out
}
