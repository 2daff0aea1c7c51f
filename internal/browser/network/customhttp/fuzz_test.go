package customhttp

import (
	"net/http"
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loupe/internal/browser/network"
)

func FuzzSerializeRequest(f *testing.F) {
	f.Add("GET", "http://example.com", "key", "value", "body")
	f.Fuzz(func(t *testing.T, method, urlStr, headerKey, headerValue, body string) {
		if len(method) == 0 || len(urlStr) == 0 || strings.Contains(urlStr, "\x00") {
			return
		}
		req, err := http.NewRequest(method, urlStr, strings.NewReader(body))
		if err != nil {
			return
		}
		if len(headerKey) > 0 && !strings.ContainsAny(headerKey, " \t\r\n\x00") {
			req.Header.Set(headerKey, headerValue)
		}
		_, _ = SerializeRequest(req)
	})
}

func FuzzH1ResponseParsing(f *testing.F) {
	f.Add("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	f.Add("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\nHTTP/1.1 204 No Content\r\n\r\n")
	f.Fuzz(func(t *testing.T, response string) {
		parser := network.NewHTTPParser(zaptest.NewLogger(t))
		req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
		resps, _ := parser.ParsePipelinedResponses(strings.NewReader(response), []*http.Request{req, req})
		if len(resps) > 2 {
			t.Fatalf("got %d responses for 2 requests", len(resps))
		}
	})
}

func FuzzParseAltSvc(f *testing.F) {
	f.Add(`h3=":443"; ma=86400, h3-29=":443"`)
	f.Add("clear")
	f.Fuzz(func(t *testing.T, header string) {
		services, clearAll, err := ParseAltSvc(header)
		if err != nil {
			return
		}
		if clearAll && len(services) != 0 {
			t.Fatalf("clear returned services %v", services)
		}
		for _, svc := range services {
			if svc.Port < 1 || svc.Port > 65535 {
				t.Fatalf("port out of range: %d", svc.Port)
			}
		}
	})
}

// FuzzRequestHeaderFields builds structured requests from raw bytes.
func FuzzRequestHeaderFields(f *testing.F) {
	f.Add([]byte("seed-request-bytes"))
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)
		var in struct {
			Method  string
			Path    string
			Headers map[string]string
			Body    []byte
		}
		if err := c.GenerateStruct(&in); err != nil {
			return
		}
		req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
		if err != nil {
			return
		}
		req.Method = in.Method
		req.URL.Path = in.Path
		for k, v := range in.Headers {
			if !strings.HasPrefix(k, ":") {
				req.Header[k] = []string{v}
			}
		}
		origin, err := network.ParseURL("https://example.com")
		if err != nil {
			t.Fatal(err)
		}
		fields := requestHeaderFields(origin, req, in.Body)
		if len(fields) < 4 {
			t.Fatalf("missing pseudo-headers: %v", fields)
		}
		lengths := 0
		for _, f := range fields[4:] {
			if f.Name == "content-length" {
				lengths++
				continue
			}
			if strings.HasPrefix(f.Name, ":") || connectionHeaders[f.Name] {
				t.Fatalf("forbidden field %q", f.Name)
			}
		}
		if lengths > 1 {
			t.Fatalf("content-length emitted %d times", lengths)
		}
	})
}
