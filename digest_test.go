package paeon

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDigestString(t *testing.T) {
	// BLAKE3 digest of empty input
	d := DigestBytes([]byte{})
	expected := "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	require.Equal(t, expected, d.String())
}

func TestDigestShortString(t *testing.T) {
	d := DigestBytes([]byte("hello"))
	short := d.ShortString()
	require.Len(t, short, 16)
	require.True(t, strings.HasPrefix(d.String(), short))
}

func TestDigestIsZero(t *testing.T) {
	var zero Digest
	require.True(t, zero.IsZero())

	d := DigestBytes([]byte("test"))
	require.False(t, d.IsZero())
}

func TestDigestMarshalUnmarshal(t *testing.T) {
	original := DigestBytes([]byte("test data"))

	text, err := original.MarshalText()
	require.NoError(t, err)

	var parsed Digest
	err = parsed.UnmarshalText(text)
	require.NoError(t, err)

	require.Equal(t, original, parsed)
}

func TestParseDigestInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too short", "abc123"},
		{"too long", strings.Repeat("a", 128)},
		{"invalid hex", strings.Repeat("zz", 32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDigest(tt.input)
			require.Error(t, err)
		})
	}
}

func TestDigestReader(t *testing.T) {
	data := []byte("some dataset payload")

	d, n, err := DigestReader(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
	require.Equal(t, DigestBytes(data), d)
}

func TestDigestingReader(t *testing.T) {
	data := []byte("streamed dataset payload")

	dr := NewDigestingReader(bytes.NewReader(data))
	var buf bytes.Buffer
	_, err := buf.ReadFrom(dr)
	require.NoError(t, err)

	require.Equal(t, data, buf.Bytes())
	require.Equal(t, int64(len(data)), dr.BytesRead())
	require.Equal(t, DigestBytes(data), dr.Sum())
}
