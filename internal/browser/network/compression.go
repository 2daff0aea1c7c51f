// internal/browser/network/compression.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// AcceptEncoding is advertised on every request.
const AcceptEncoding = "br, gzip, deflate"

// MaxDecodedBodyBytes bounds DecompressBody output.
const MaxDecodedBodyBytes = 64 << 20

var (
	gzipReaderPool = sync.Pool{
		New: func() any { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() any { return brotli.NewReader(nil) },
	}
)

// emptyReader is used to release pooled readers' sources.
var emptyReader = strings.NewReader("")

func getGzipReader(r io.Reader) (*gzip.Reader, error) {
	zr := gzipReaderPool.Get().(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		gzipReaderPool.Put(zr)
		return nil, err
	}
	return zr, nil
}

func putGzipReader(zr *gzip.Reader) {
	if zr == nil {
		return
	}
	_ = zr.Reset(emptyReader)
	gzipReaderPool.Put(zr)
}

func getBrotliReader(r io.Reader) (*brotli.Reader, error) {
	br := brotliReaderPool.Get().(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		brotliReaderPool.Put(br)
		return nil, err
	}
	return br, nil
}

func putBrotliReader(br *brotli.Reader) {
	if br == nil {
		return
	}
	_ = br.Reset(emptyReader)
	brotliReaderPool.Put(br)
}

// closeWrapper closes the decoder and the body beneath it, then returns
// pooled readers.
type closeWrapper struct {
	io.ReadCloser
	originalBody io.ReadCloser
	poolCallback func()
}

func (w *closeWrapper) Close() error {
	err1 := w.ReadCloser.Close()
	err2 := w.originalBody.Close()
	if w.poolCallback != nil {
		w.poolCallback()
		w.poolCallback = nil
	}
	return errors.Join(err1, err2)
}

// wrapDecoder layers one decoding step over body. Identity returns body unchanged.
func wrapDecoder(encoding string, body io.ReadCloser) (io.ReadCloser, error) {
	var reader io.ReadCloser
	var poolCallback func()

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		gzipReader, err := getGzipReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		reader = gzipReader
		poolCallback = func() { putGzipReader(gzipReader) }
	case "deflate":
		reader = tryDeflate(body)
	case "br":
		brReader, err := getBrotliReader(body)
		if err != nil {
			return nil, fmt.Errorf("brotli: %w", err)
		}
		reader = io.NopCloser(brReader)
		poolCallback = func() { putBrotliReader(brReader) }
	case "identity", "":
		return body, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrEncoding, encoding)
	}
	return &closeWrapper{ReadCloser: reader, originalBody: body, poolCallback: poolCallback}, nil
}

// splitEncodings flattens Content-Encoding values into the order they were applied.
func splitEncodings(values []string) []string {
	var out []string
	for _, v := range values {
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				out = append(out, e)
			}
		}
	}
	return out
}

// DecompressResponse wraps resp.Body with decoders for every listed
// Content-Encoding, last applied first. On success the encoding and
// length headers are removed. On error the body may be partly consumed.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := splitEncodings(resp.Header.Values("Content-Encoding"))
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		body, err := wrapDecoder(encodings[i], resp.Body)
		if err != nil {
			return err
		}
		resp.Body = body
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// DecompressBody decodes a fully buffered body. encoding is the raw
// Content-Encoding header value and may list several codings.
func DecompressBody(encoding string, body []byte) ([]byte, error) {
	encodings := splitEncodings([]string{encoding})
	if len(encodings) == 0 {
		return body, nil
	}
	var r io.ReadCloser = io.NopCloser(bytes.NewReader(body))
	for i := len(encodings) - 1; i >= 0; i-- {
		next, err := wrapDecoder(encodings[i], r)
		if err != nil {
			r.Close()
			return nil, err
		}
		r = next
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, MaxDecodedBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", encoding, err)
	}
	if len(out) > MaxDecodedBodyBytes {
		return nil, fmt.Errorf("decoded body exceeds %d bytes", MaxDecodedBodyBytes)
	}
	return out, nil
}

// resettableReader buffers the start of a stream so a second decoder can
// re-read it.
type resettableReader struct {
	r      io.Reader
	buf    *bytes.Buffer
	source io.Reader
}

func newResettableReader(r io.Reader) *resettableReader {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	return &resettableReader{r: io.TeeReader(r, buf), buf: buf, source: r}
}

func (rr *resettableReader) Read(p []byte) (int, error) { return rr.r.Read(p) }

func (rr *resettableReader) Reset() {
	rr.r = io.MultiReader(bytes.NewReader(rr.buf.Bytes()), rr.source)
}

// tryDeflate reads zlib-wrapped deflate, falling back to raw deflate for
// servers that omit the zlib header.
func tryDeflate(r io.Reader) io.ReadCloser {
	rr := newResettableReader(r)
	if zr, err := zlib.NewReader(rr); err == nil {
		rr.r = rr.source
		return zr
	}
	rr.Reset()
	return flate.NewReader(rr)
}
