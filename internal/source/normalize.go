package source

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var ErrNotHTTPS = errors.New("url must use https")

// NormalizeURL returns the canonical form of a work URL: https only,
// IDNA ASCII host in lower case, default port and fragment dropped.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return "", ErrNotHTTPS
	}
	host, err := canonicalHost(u.Hostname())
	if err != nil {
		return "", err
	}
	if port := u.Port(); port != "" && port != "443" {
		host += ":" + port
	}
	u.Scheme = "https"
	u.Host = host
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func canonicalHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.TrimSpace(host), ".")
	if host == "" {
		return "", errors.New("url has no host")
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("host %q: %w", host, err)
	}
	return strings.ToLower(ascii), nil
}

// Domain returns the matching key for a URL: the canonical host without "www.".
func Domain(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return domainKey(u.Hostname())
}

func domainKey(host string) (string, error) {
	h, err := canonicalHost(host)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(h, "www."), nil
}
