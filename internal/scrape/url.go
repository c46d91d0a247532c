package scrape

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidURL marks URLs the scraper refuses to touch: bad syntax,
// non-HTTP schemes, or hosts that resolve into private address space.
var ErrInvalidURL = errors.New("invalid url")

var deniedHostSuffixes = []string{".local", ".internal"}

// ValidateURL parses raw and rejects anything outside the public
// http/https surface. IP-literal hosts are checked against loopback,
// private, link-local and unspecified ranges.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, ErrInvalidURL
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrInvalidURL
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return nil, ErrInvalidURL
	}
	if host == "localhost" {
		return nil, ErrInvalidURL
	}
	for _, suffix := range deniedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return nil, ErrInvalidURL
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return nil, ErrInvalidURL
		}
	}
	return parsed, nil
}
