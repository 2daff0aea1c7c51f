package network

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Test Helpers --

func brotliBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zlibBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func rawDeflateBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// -- Tests --

func TestDecompressBody(t *testing.T) {
	const text = "<html><body>compressed page</body></html>"
	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{"identity", "", []byte(text)},
		{"explicit identity", "identity", []byte(text)},
		{"gzip", "gzip", gzipBytes(t, text)},
		{"brotli", "br", brotliBytes(t, text)},
		{"zlib deflate", "deflate", zlibBytes(t, text)},
		{"raw deflate", "deflate", rawDeflateBytes(t, text)},
		{"case and spacing", " GZIP ", gzipBytes(t, text)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecompressBody(tt.encoding, tt.body)
			require.NoError(t, err)
			assert.Equal(t, text, string(got))
		})
	}
}

func TestDecompressBody_Layered(t *testing.T) {
	// gzip applied first, then br: decoding runs br, then gzip.
	layered := brotliBytes(t, string(gzipBytes(t, "two layers")))
	got, err := DecompressBody("gzip, br", layered)
	require.NoError(t, err)
	assert.Equal(t, "two layers", string(got))
}

func TestDecompressBody_Errors(t *testing.T) {
	_, err := DecompressBody("compress", []byte("x"))
	assert.ErrorIs(t, err, ErrEncoding)

	_, err = DecompressBody("gzip", []byte("not gzip data"))
	assert.Error(t, err)
}

func TestDecompressResponse_NoEncodingKeepsBody(t *testing.T) {
	original := io.NopCloser(strings.NewReader("uncompressed"))
	resp := &http.Response{Body: original, Header: http.Header{}}

	require.NoError(t, DecompressResponse(resp))
	assert.Equal(t, original, resp.Body)
}

func TestDecompressResponse_StripsHeaders(t *testing.T) {
	body := gzipBytes(t, "payload")
	resp := &http.Response{
		Body: io.NopCloser(bytes.NewReader(body)),
		Header: http.Header{
			"Content-Encoding": {"gzip"},
			"Content-Length":   {"99"},
		},
		ContentLength: 99,
	}
	require.NoError(t, DecompressResponse(resp))
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	assert.Empty(t, resp.Header.Get("Content-Length"))
	assert.Equal(t, int64(-1), resp.ContentLength)
	assert.True(t, resp.Uncompressed)

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	assert.NoError(t, resp.Body.Close())
}

func TestDecompressResponse_PooledReadersReused(t *testing.T) {
	for range 3 {
		resp := &http.Response{
			Body:   io.NopCloser(bytes.NewReader(brotliBytes(t, "again"))),
			Header: http.Header{"Content-Encoding": {"br"}},
		}
		require.NoError(t, DecompressResponse(resp))
		got, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "again", string(got))
		require.NoError(t, resp.Body.Close())
	}
}
