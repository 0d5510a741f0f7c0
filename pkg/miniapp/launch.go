package miniapp

import (
	"fmt"
	"net/url"
	"sort"
)

// RevisionParam is the cache-busting query parameter added to launch URLs.
const RevisionParam = "__rv"

// Manifest describes an installed miniapp.
type Manifest struct {
	ID        string `json:"id" toml:"id"`
	Name      string `json:"name,omitempty" toml:"name"`
	URL       string `json:"url" toml:"url"`
	Version   string `json:"version,omitempty" toml:"version"`
	UpdatedAt string `json:"updatedAt,omitempty" toml:"updatedAt"`
	// StrictURL keeps the launch URL exactly as published.
	StrictURL bool `json:"strictUrl,omitempty" toml:"strictUrl"`
}

// BuildLaunchContextParams returns a copy of params with the revision
// parameter derived from m. An existing revision value is left alone.
func BuildLaunchContextParams(m Manifest, params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if m.StrictURL {
		return out
	}
	if _, ok := out[RevisionParam]; ok {
		return out
	}
	rev := m.Version
	if rev == "" {
		rev = m.UpdatedAt
	}
	if rev != "" {
		out[RevisionParam] = rev
	}
	return out
}

// LaunchURL merges the launch context params into the manifest URL query.
func LaunchURL(m Manifest, params map[string]string) (string, error) {
	u, err := url.Parse(m.URL)
	if err != nil {
		return "", fmt.Errorf("parse miniapp url %q: %w", m.URL, err)
	}
	merged := BuildLaunchContextParams(m, params)
	if len(merged) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, merged[k])
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
