package helpers

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// LinkKey normalises a URL down to scheme://host/path for identity checks.
// Scheme and host are lower-cased, default ports dropped, the path cleaned
// and the query string and fragment removed. Schemeless input defaults to
// https, so "Example.com/a" and "https://example.com/a?utm_source=x" collide.
func LinkKey(raw string) (string, error) {
	parsed, err := parseLink(raw)
	if err != nil {
		return "", err
	}

	cleanPath := path.Clean("/" + parsed.Path)
	if cleanPath == "/" {
		cleanPath = ""
	}
	return parsed.Scheme + "://" + parsed.Host + cleanPath, nil
}

// Host returns the lower-cased host of raw without a default port, or "" when
// raw cannot be parsed.
func Host(raw string) string {
	parsed, err := parseLink(raw)
	if err != nil {
		return ""
	}
	return parsed.Host
}

func parseLink(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" && parsed.Host == "" {
		// schemeless forms like example.com/path or //example.com/path
		if strings.HasPrefix(raw, "//") {
			parsed, err = url.Parse("https:" + raw)
		} else {
			parsed, err = url.Parse("https://" + raw)
		}
		if err != nil {
			return nil, err
		}
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return nil, errors.New("url missing host")
	}
	if port := parsed.Port(); port != "" {
		if !(parsed.Scheme == "http" && port == "80") && !(parsed.Scheme == "https" && port == "443") {
			host += ":" + port
		}
	}
	parsed.Host = host
	return parsed, nil
}
