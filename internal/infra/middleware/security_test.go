package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(t *testing.T, h http.Handler, remoteAddr string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestSecurityHeadersSet(t *testing.T) {
	h := SecurityHeaders(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if hsts := rec.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("HSTS set on plaintext request: %q", hsts)
	}
}

func TestSecurityHeadersHSTSOverTLS(t *testing.T) {
	h := SecurityHeaders(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("HSTS = %q", got)
	}
}

func TestRateLimitWithinBurst(t *testing.T) {
	h := RateLimit(context.Background(), 60, 10)(okHandler())
	for i := 0; i < 10; i++ {
		if code := hit(t, h, "192.0.2.10:1000"); code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, code)
		}
	}
}

func TestRateLimitBlocksBeyondBurst(t *testing.T) {
	h := RateLimit(context.Background(), 6, 3)(okHandler())

	ok, limited := 0, 0
	for i := 0; i < 10; i++ {
		switch hit(t, h, "192.0.2.10:1000") {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			limited++
		}
	}
	if ok != 3 || limited != 7 {
		t.Fatalf("ok=%d limited=%d, want 3/7", ok, limited)
	}
}

func TestRateLimitIsPerClient(t *testing.T) {
	h := RateLimit(context.Background(), 6, 2)(okHandler())

	var firstLimited bool
	for i := 0; i < 3; i++ {
		if hit(t, h, "192.0.2.10:1000") == http.StatusTooManyRequests {
			firstLimited = true
		}
	}
	if !firstLimited {
		t.Error("first client never limited past its burst")
	}

	for i := 0; i < 2; i++ {
		if code := hit(t, h, "192.0.2.20:1000"); code != http.StatusOK {
			t.Errorf("second client request %d: status %d", i+1, code)
		}
	}
}

func TestRateLimitRefills(t *testing.T) {
	if testing.Short() {
		t.Skip("time-dependent")
	}
	h := RateLimit(context.Background(), 60, 1)(okHandler())

	if code := hit(t, h, "192.0.2.10:1000"); code != http.StatusOK {
		t.Fatalf("first request: status %d", code)
	}
	if code := hit(t, h, "192.0.2.10:1000"); code != http.StatusTooManyRequests {
		t.Fatalf("immediate second request: status %d", code)
	}

	time.Sleep(1100 * time.Millisecond)
	if code := hit(t, h, "192.0.2.10:1000"); code != http.StatusOK {
		t.Fatalf("request after refill: status %d", code)
	}
}

func TestClientIPExtraction(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		trusted    []string
		want       string
	}{
		{"direct peer, port stripped", "192.0.2.10:1000", "", "", nil, "192.0.2.10"},
		{"xff ignored without trusted proxies", "192.0.2.10:1000", "8.8.8.8", "", nil, "192.0.2.10"},
		{"xff ignored from untrusted peer", "192.0.2.10:1000", "8.8.8.8", "", []string{"10.0.0.1"}, "192.0.2.10"},
		{"xff honored from trusted proxy", "10.0.0.1:1000", "8.8.8.8", "", []string{"10.0.0.1"}, "8.8.8.8"},
		{"first xff entry wins", "10.0.0.1:1000", "203.0.113.1, 198.51.100.1", "", []string{"10.0.0.1"}, "203.0.113.1"},
		{"x-real-ip fallback", "10.0.0.1:1000", "", "203.0.113.1", []string{"10.0.0.1"}, "203.0.113.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				req.Header.Set("X-Real-IP", tc.xri)
			}
			if got := getClientIP(req, tc.trusted); got != tc.want {
				t.Errorf("getClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimitCleanupStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := RateLimit(ctx, 60, 10)(okHandler())
	hit(t, h, "192.0.2.10:1000")
	cancel()
	// Limiter keeps serving after the cleanup goroutine exits.
	if code := hit(t, h, "192.0.2.10:1000"); code != http.StatusOK {
		t.Errorf("status after cancel = %d", code)
	}
}
