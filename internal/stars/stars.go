// Package stars enriches repository records with star counts from
// public forge APIs. It is strictly best-effort: any failure falls
// back to the previous known value.
package stars

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const userAgent = "repoqa-indexer"

// host describes one supported forge. Dispatch is an explicit tagged
// lookup on the URL's domain, not free-form string sniffing.
type host struct {
	name   string
	domain string
	apiURL func(owner, name string) string
	parse  func(body []byte) (int, bool)
}

var hosts = []host{
	{
		name:   "github",
		domain: "github.com",
		apiURL: func(owner, name string) string {
			return fmt.Sprintf("https://api.github.com/repos/%s/%s", owner, name)
		},
		parse: func(body []byte) (int, bool) {
			var v struct {
				StargazersCount *int `json:"stargazers_count"`
			}
			if err := json.Unmarshal(body, &v); err != nil || v.StargazersCount == nil {
				return 0, false
			}
			return *v.StargazersCount, true
		},
	},
	{
		name:   "gitlab",
		domain: "gitlab.com",
		apiURL: func(owner, name string) string {
			return "https://gitlab.com/api/v4/projects/" + url.PathEscape(owner+"/"+name)
		},
		parse: func(body []byte) (int, bool) {
			var v struct {
				StarCount *int `json:"star_count"`
			}
			if err := json.Unmarshal(body, &v); err != nil || v.StarCount == nil {
				return 0, false
			}
			return *v.StarCount, true
		},
	},
	{
		name:   "gitee",
		domain: "gitee.com",
		apiURL: func(owner, name string) string {
			return fmt.Sprintf("https://gitee.com/api/v5/repos/%s/%s", owner, name)
		},
		parse: func(body []byte) (int, bool) {
			var v struct {
				StargazersCount *int `json:"stargazers_count"`
				Stars           *int `json:"stars"`
			}
			if err := json.Unmarshal(body, &v); err != nil {
				return 0, false
			}
			if v.StargazersCount != nil {
				return *v.StargazersCount, true
			}
			if v.Stars != nil {
				return *v.Stars, true
			}
			return 0, false
		},
	},
}

var (
	sshURLRe  = regexp.MustCompile(`^git@([^:]+):([^/]+)/(.+?)(?:\.git)?$`)
	httpURLRe = regexp.MustCompile(`^https?://([^/]+)/([^/]+)/([^/]+?)(?:\.git)?/?$`)
)

// Fetcher looks up star counts over HTTP without credentials.
type Fetcher struct {
	HTTPClient *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{HTTPClient: &http.Client{Timeout: 6 * time.Second}}
}

// Fetch returns the current star count for gitURL, or prev when the
// host is unrecognized or the lookup fails for any reason. It never
// returns an error.
func (f *Fetcher) Fetch(ctx context.Context, gitURL string, prev int) int {
	domain, owner, name, ok := parseGitURL(gitURL)
	if !ok {
		return prev
	}
	h, ok := lookupHost(domain)
	if !ok {
		return prev
	}

	count, err := f.query(ctx, h, owner, name)
	if err != nil {
		log.Warn().Err(err).Str("host", h.name).Str("repo", owner+"/"+name).
			Msg("star lookup failed, keeping previous value")
		return prev
	}
	return count
}

func (f *Fetcher) query(ctx context.Context, h host, owner, name string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.apiURL(owner, name), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}
	count, ok := h.parse(body)
	if !ok {
		return 0, fmt.Errorf("no star field in %s response", h.name)
	}
	return count, nil
}

func lookupHost(domain string) (host, bool) {
	for _, h := range hosts {
		if domain == h.domain {
			return h, true
		}
	}
	return host{}, false
}

// parseGitURL extracts (domain, owner, name) from https and ssh style
// git URLs.
func parseGitURL(raw string) (domain, owner, name string, ok bool) {
	raw = strings.TrimSpace(raw)
	if m := sshURLRe.FindStringSubmatch(raw); m != nil {
		return strings.ToLower(m[1]), m[2], m[3], true
	}
	if m := httpURLRe.FindStringSubmatch(raw); m != nil {
		return strings.ToLower(m[1]), m[2], m[3], true
	}
	return "", "", "", false
}
