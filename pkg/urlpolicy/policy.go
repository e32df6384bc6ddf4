// Package urlpolicy decides which URLs browser sessions may be sent to.
package urlpolicy

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

var (
	// ErrInvalidURL is returned for anything that is not an http(s) URL with a usable host.
	ErrInvalidURL = errors.New("invalid URL format")

	// ErrHostNotAllowed is returned when the host matches a deny pattern or
	// misses every allow pattern.
	ErrHostNotAllowed = errors.New("host not allowed")
)

var (
	// Dotted public hostnames, with optional port and path.
	dottedHostURL = regexp.MustCompile(`^https?://([a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?\.)+[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(:[0-9]+)?(/.*)?$`)

	// Single-label hosts such as container service names ("http://web:8080/").
	serviceHostURL = regexp.MustCompile(`^https?://[a-zA-Z0-9][a-zA-Z0-9_-]*(:[0-9]+)?(/.*)?$`)
)

// ValidFormat reports whether raw is an http(s) URL whose host is either a
// dotted name or a single-label service name.
func ValidFormat(raw string) bool {
	return dottedHostURL.MatchString(raw) || serviceHostURL.MatchString(raw)
}

// Policy matches URL hosts against glob patterns such as "*.example.com".
// Deny patterns take precedence; an empty allow list allows every host.
type Policy struct {
	allowedPatterns []glob.Glob
	deniedPatterns  []glob.Glob
}

// New compiles the host patterns. '.' is the glob separator, so "*" matches
// one label and "**" matches any number of them.
func New(allowed, denied []string) (*Policy, error) {
	p := &Policy{}

	for _, pattern := range allowed {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, fmt.Errorf("invalid allowed host pattern '%s': %w", pattern, err)
		}
		p.allowedPatterns = append(p.allowedPatterns, g)
	}

	for _, pattern := range denied {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, fmt.Errorf("invalid denied host pattern '%s': %w", pattern, err)
		}
		p.deniedPatterns = append(p.deniedPatterns, g)
	}

	return p, nil
}

// Check validates raw's format and then its host. A nil Policy only checks the format.
func (p *Policy) Check(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: URL must be a non-empty string", ErrInvalidURL)
	}
	if !ValidFormat(raw) {
		return fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	if p == nil {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if !p.HostAllowed(host) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	return nil
}

// HostAllowed applies the patterns to a bare hostname.
func (p *Policy) HostAllowed(host string) bool {
	host = strings.ToLower(host)

	for _, pattern := range p.deniedPatterns {
		if pattern.Match(host) {
			return false
		}
	}

	if len(p.allowedPatterns) == 0 {
		return true
	}

	for _, pattern := range p.allowedPatterns {
		if pattern.Match(host) {
			return true
		}
	}

	return false
}
