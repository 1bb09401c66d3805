package proxy

import (
	"strings"
	"testing"
)

func TestInjectScriptPrefersHeadThenBodyThenHTML(t *testing.T) {
	testcases := []struct {
		name   string
		html   string
		wantOK bool
	}{
		{name: "has head", html: "<html><head><title>x</title></head><body>hi</body></html>", wantOK: true},
		{name: "has body only", html: "<html><body>hi</body></html>", wantOK: true},
		{name: "has html only", html: "<html>hi</html>", wantOK: true},
		{name: "no tags at all", html: "hi there", wantOK: false},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			out, ok := InjectScript(tc.html, "nonce123")
			if ok != tc.wantOK {
				t.Fatalf("InjectScript ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				if out != tc.html {
					t.Fatalf("expected unmodified output when ok=false, got %q", out)
				}
				return
			}
			if out == tc.html {
				t.Fatal("expected script to be injected, output unchanged")
			}
		})
	}
}

func TestRewriteCSPAddsNonceToExistingScriptSrc(t *testing.T) {
	header := "default-src 'self'; script-src 'self' https://cdn.example.com; object-src 'none'"
	got := RewriteCSP(header, "abc123")
	if !strings.Contains(got, "'nonce-abc123'") {
		t.Fatalf("expected nonce added to script-src, got %q", got)
	}
	if !strings.Contains(got, "https://cdn.example.com") {
		t.Fatalf("expected existing script-src sources preserved, got %q", got)
	}
}

func TestRewriteCSPAppendsScriptSrcWhenAbsent(t *testing.T) {
	got := RewriteCSP("default-src 'self'", "abc123")
	if !strings.Contains(got, "script-src 'self' 'nonce-abc123'") {
		t.Fatalf("expected a new script-src directive appended, got %q", got)
	}
}

func TestRewriteCSPEmptyHeaderStaysEmpty(t *testing.T) {
	if got := RewriteCSP("", "abc123"); got != "" {
		t.Fatalf("expected empty header to stay empty, got %q", got)
	}
}

func TestRewriteHTMLHeadersStripsEmbedBlockers(t *testing.T) {
	header := map[string][]string{
		"Cross-Origin-Opener-Policy": {"same-origin"},
		"X-Frame-Options":            {"DENY"},
		"Content-Security-Policy":    {"script-src 'self'"},
	}
	RewriteHTMLHeaders(header, "nonce1", 42)

	if _, ok := header["Cross-Origin-Opener-Policy"]; ok {
		t.Fatal("expected Cross-Origin-Opener-Policy to be removed")
	}
	if _, ok := header["X-Frame-Options"]; ok {
		t.Fatal("expected X-Frame-Options to be removed")
	}
	if header["Content-Length"][0] != "42" {
		t.Fatalf("expected Content-Length rewritten to 42, got %v", header["Content-Length"])
	}
	if !strings.Contains(header["Content-Security-Policy"][0], "nonce-nonce1") {
		t.Fatalf("expected CSP nonce rewritten, got %v", header["Content-Security-Policy"])
	}
}

func TestNewNonceProducesDistinctValues(t *testing.T) {
	a, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	b, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	if a == b {
		t.Fatal("expected two consecutive nonces to differ")
	}
}
