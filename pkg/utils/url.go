package utils

import (
	"fmt"
	"net/url"
)

// Parses a string of the form tcp://<host>:<port> and returns the
// listen address. If the port is not specified, it defaults to 8080.
func ParseHttpUrl(urlstr string) (string, error) {
	uri, err := url.Parse(urlstr)
	if err != nil {
		return "", err
	}

	if uri.Port() == "" {
		uri.Host += ":8080"
	}

	switch uri.Scheme {
	case "tcp":
		return uri.Host, nil
	default:
		return "", fmt.Errorf("%w: unsupported protocol %q", ErrParse, uri.Scheme)
	}
}
