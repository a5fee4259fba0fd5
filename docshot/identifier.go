package docshot

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// Identifier derives the filesystem-safe key for a target URL: the host with
// dots replaced by dashes, an underscore, then the non-empty path segments
// joined by dashes. https://example.com/a/b gives example-com_a-b. Query,
// fragment, scheme and port do not take part.
func Identifier(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidInput, rawURL)
	}
	host, err = idna.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: host %q: %v", ErrInvalidInput, u.Hostname(), err)
	}

	var segs []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}

	id := strings.ReplaceAll(host, ".", "-") + "_" + strings.Join(segs, "-")
	return sanitize(id), nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		}
		return '-'
	}, s)
}
