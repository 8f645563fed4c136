package resolve

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/jsonc"
)

// RedirectRule sends requests matching From to To.
type RedirectRule struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Status int    `json:"status,omitempty"`
}

// HeaderRule injects headers into responses for paths matching Source.
type HeaderRule struct {
	Source  string            `json:"source"`
	Headers map[string]string `json:"headers"`
}

// DropConfig is the routing file a deploy may carry at /_drop.json.
type DropConfig struct {
	Redirects []RedirectRule `json:"redirects"`
	Headers   []HeaderRule   `json:"headers"`
}

// ParseDropConfig decodes a routing file. Comments and trailing commas are
// accepted.
func ParseDropConfig(data []byte) (DropConfig, error) {
	var cfg DropConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return DropConfig{}, fmt.Errorf("parse drop config: %w", err)
	}
	for i := range cfg.Redirects {
		switch status := cfg.Redirects[i].Status; {
		case status == 0:
			cfg.Redirects[i].Status = http.StatusMovedPermanently
		case status < 300 || status > 399:
			return DropConfig{}, fmt.Errorf("parse drop config: redirect %q has non-redirect status %d", cfg.Redirects[i].From, status)
		}
	}
	return cfg, nil
}

// Redirect returns the first redirect rule matching sitePath.
func (c DropConfig) Redirect(sitePath string) (*Redirect, bool) {
	for _, rule := range c.Redirects {
		splat, ok := matchRule(rule.From, sitePath)
		if !ok {
			continue
		}
		return &Redirect{Location: expandTarget(rule.To, splat), Status: rule.Status}, true
	}
	return nil, false
}

// HeadersFor merges the headers of every rule matching sitePath. Later rules
// override earlier ones for the same header name.
func (c DropConfig) HeadersFor(sitePath string) map[string]string {
	out := map[string]string{}
	for _, rule := range c.Headers {
		if _, ok := matchRule(rule.Source, sitePath); !ok {
			continue
		}
		for name, value := range rule.Headers {
			out[http.CanonicalHeaderKey(name)] = value
		}
	}
	return out
}
