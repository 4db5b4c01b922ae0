package codec

import (
	"testing"

	"github.com/cuemby/ddfrontier/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []types.Request{
		{URL: "http://example.com", Priority: 100, Depth: 10},
		{URL: "http://example.com/foo?x=1", Priority: -5, Depth: -32768},
		{URL: "http://example.com/foo", Priority: 0, Depth: 32767},
	}
	for _, r := range cases {
		decoded, err := Decode(Encode(r))
		require.NoError(t, err)
		assert.Equal(t, r, decoded)
	}
}

func TestDepthSaturation(t *testing.T) {
	r := types.Request{URL: "http://example.com", Priority: 1, Depth: 1 << 16}
	decoded, err := Decode(Encode(r))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, decoded.Depth, int32(1<<15-1))

	r.Depth = -(1 << 16)
	decoded, err = Decode(Encode(r))
	require.NoError(t, err)
	assert.LessOrEqual(t, decoded.Depth, int32(-(1 << 15)))
}

func TestDecodeMalformed(t *testing.T) {
	for _, bad := range []string{"", "100", "100 10", "not-a-number 10 http://x"} {
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrMalformed)
	}
}

func TestURLCompressionRoundTrip(t *testing.T) {
	urls := []string{
		"https://www.example.com/a%20b",
		"http://www.example.com",
		"https://example.com/%E2%9C%93",
		"http://example.com",
		"ftp://example.com/no-prefix-match",
	}
	for _, u := range urls {
		assert.Equal(t, u, DecompressURL(CompressURL(u)))
	}
}
