// Package codec encodes and decodes crawl requests into the compact
// whitespace-separated representation stored in each per-domain queue.
package codec

import (
	"errors"
	"strconv"
	"strings"

	"github.com/cuemby/ddfrontier/pkg/types"
)

// ErrMalformed is returned by Decode when the encoded member does not split
// into the expected priority/depth/url fields.
var ErrMalformed = errors.New("codec: malformed encoded request")

const (
	minDepth = -32768
	maxDepth = 32767
)

// Encode renders a request as "<priority> <depth> <url>", with url's
// scheme/www prefix compressed to a single marker byte. Depth saturates to
// the signed 16-bit range before encoding; priority is carried as-is since
// it already fits a signed 32-bit integer by construction (see types.Request).
func Encode(r types.Request) string {
	depth := r.Depth
	if depth > maxDepth {
		depth = maxDepth
	} else if depth < minDepth {
		depth = minDepth
	}
	return strconv.FormatInt(int64(r.Priority), 10) + " " +
		strconv.FormatInt(int64(depth), 10) + " " + CompressURL(r.URL)
}

// Decode reverses Encode. It splits at the first two spaces only, so the URL
// field (the tail) may not itself be percent-decoded first.
func Decode(encoded string) (types.Request, error) {
	first := strings.IndexByte(encoded, ' ')
	if first < 0 {
		return types.Request{}, ErrMalformed
	}
	rest := encoded[first+1:]
	second := strings.IndexByte(rest, ' ')
	if second < 0 {
		return types.Request{}, ErrMalformed
	}

	priority, err := strconv.ParseInt(encoded[:first], 10, 32)
	if err != nil {
		return types.Request{}, ErrMalformed
	}
	depth, err := strconv.ParseInt(rest[:second], 10, 32)
	if err != nil {
		return types.Request{}, ErrMalformed
	}
	url := rest[second+1:]
	if url == "" {
		return types.Request{}, ErrMalformed
	}

	return types.Request{
		URL:      DecompressURL(url),
		Priority: int32(priority),
		Depth:    int32(depth),
	}, nil
}
