package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/toolbridge/internal/claudeadapter/openaichat"
)

// benchTransport returns a generated backend stream without network calls
// or request bookkeeping.
type benchTransport struct {
	deltas []string
}

func (t benchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(openAIStream(triggerIn(string(body)), t.deltas))),
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Request:    req,
	}, nil
}

type benchScenario struct {
	name    string
	request string
	deltas  []string
}

func benchScenarios() []benchScenario {
	long := make([]string, 0, 200)
	for i := range 200 {
		long = append(long, fmt.Sprintf("token%d ", i))
	}

	return []benchScenario{
		{
			name:    "text",
			request: `{"model":"claude-bench","max_tokens":512,"stream":%t,"messages":[{"role":"user","content":"Tell me a story"}]}`,
			deltas:  long,
		},
		{
			name:    "tool_use",
			request: weatherRequest,
			deltas:  weatherDeltas,
		},
		{
			name:    "mixed_content",
			request: weatherRequest,
			deltas: append(append([]string(nil), long[:50]...),
				"{{trigger}}\n<invoke name=\"get_weather\"><parameter name=\"city\">Par",
				"is</parameter></invoke>",
			),
		},
	}
}

// setupProxyWithMockTransport creates a Proxy with full middleware stack but mocked backend.
// Suppresses logging to isolate benchmark measurements from I/O overhead.
func setupProxyWithMockTransport(b *testing.B, transport http.RoundTripper) *httptest.Server {
	b.Helper()

	slog.SetDefault(slog.New(slog.DiscardHandler))

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	stream := DefaultStreamConfig()
	stream.AggregationInterval = 0

	proxy, err := New(ts, staticReadiness(true),
		WithTransport(transport),
		WithUpstream(openaichat.Config{BaseURL: "http://backend.test/v1", TokenMultiplier: 1}),
		WithStream(stream),
	)
	if err != nil {
		b.Fatalf("Failed to create proxy: %v", err)
	}

	server := httptest.NewServer(proxy)
	b.Cleanup(server.Close)
	return server
}

func postMessages(server *httptest.Server, body string) (*http.Response, error) {
	resp, err := http.Post(server.URL+"/v1/messages", "application/json", strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp, nil
}

// BenchmarkProxyStreaming measures end-to-end streaming latency through
// routing, middleware, tool-call parsing and SSE delivery.
// Excludes network latency to the backend (mocked transport).
func BenchmarkProxyStreaming(b *testing.B) {
	for _, s := range benchScenarios() {
		b.Run(s.name, func(b *testing.B) {
			server := setupProxyWithMockTransport(b, benchTransport{deltas: s.deltas})
			body := fmt.Sprintf(s.request, true)

			b.ReportAllocs()
			for b.Loop() {
				resp, err := postMessages(server, body)
				if err != nil {
					b.Fatal(err)
				}
				if _, err := io.Copy(io.Discard, resp.Body); err != nil {
					b.Fatalf("Stream read error: %v", err)
				}
				_ = resp.Body.Close()
			}
		})
	}
}

// BenchmarkProxyNonStreaming measures end-to-end assembled response latency.
// Provides baseline comparison against streaming benchmarks to isolate SSE overhead.
func BenchmarkProxyNonStreaming(b *testing.B) {
	for _, s := range benchScenarios() {
		b.Run(s.name, func(b *testing.B) {
			server := setupProxyWithMockTransport(b, benchTransport{deltas: s.deltas})
			body := fmt.Sprintf(s.request, false)

			b.ReportAllocs()
			for b.Loop() {
				resp, err := postMessages(server, body)
				if err != nil {
					b.Fatal(err)
				}
				if _, err := io.Copy(io.Discard, resp.Body); err != nil {
					b.Fatalf("Failed to read response: %v", err)
				}
				_ = resp.Body.Close()
			}
		})
	}
}

// BenchmarkProxyStreaming_TTFB measures Time-To-First-Byte for streaming responses.
func BenchmarkProxyStreaming_TTFB(b *testing.B) {
	s := benchScenarios()[0]
	server := setupProxyWithMockTransport(b, benchTransport{deltas: s.deltas})
	body := fmt.Sprintf(s.request, true)

	var totalTTFB time.Duration
	var iterations int
	buf := make([]byte, 1)

	b.ReportAllocs()
	for b.Loop() {
		start := time.Now()

		resp, err := postMessages(server, body)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := resp.Body.Read(buf); err != nil {
			b.Fatalf("Failed to read first byte: %v", err)
		}

		totalTTFB += time.Since(start)
		iterations++

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	b.ReportMetric(float64((totalTTFB / time.Duration(iterations)).Microseconds()), "µs/ttfb")
}

// BenchmarkProxyConcurrentThroughput_Streaming measures streaming throughput
// under concurrent load.
func BenchmarkProxyConcurrentThroughput_Streaming(b *testing.B) {
	s := benchScenarios()[2]
	server := setupProxyWithMockTransport(b, benchTransport{deltas: s.deltas})
	body := fmt.Sprintf(s.request, true)

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, err := postMessages(server, body)
			if err != nil {
				b.Error(err)
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	})
}
