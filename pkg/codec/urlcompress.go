package codec

import "strings"

// commonPrefixes are substituted for a single marker byte by CompressURL.
// Order matters: longer, more specific prefixes must be tried first.
var commonPrefixes = []struct {
	marker byte
	prefix string
}{
	{0x01, "https://www."},
	{0x02, "http://www."},
	{0x03, "https://"},
	{0x04, "http://"},
}

// CompressURL replaces a well-known scheme/www prefix with a single marker
// byte, shrinking the common case without touching the rest of the URL
// (including any percent-encoded non-ASCII octets). It is a no-op when the
// URL does not start with one of the known prefixes, and it always
// round-trips byte-for-byte through DecompressURL.
func CompressURL(url string) string {
	for _, c := range commonPrefixes {
		if strings.HasPrefix(url, c.prefix) {
			return string(c.marker) + url[len(c.prefix):]
		}
	}
	return url
}

// DecompressURL reverses CompressURL.
func DecompressURL(compressed string) string {
	if compressed == "" {
		return compressed
	}
	marker := compressed[0]
	for _, c := range commonPrefixes {
		if c.marker == marker {
			return c.prefix + compressed[1:]
		}
	}
	return compressed
}
