/*
Copyright 2024 The Pinacle Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package proxy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sethvargo/go-password/password"
)

// injectedScriptTemplate listens for parent-window focus/source-control messages and
// forwards keyboard shortcuts back up, per the embed contract.
const injectedScriptTemplate = `<script nonce="%s">
(function() {
  window.addEventListener("message", function(ev) {
    if (ev.data && (ev.data.type === "pinacle-focus" || ev.data.type === "pinacle-source-control-view")) {
      document.dispatchEvent(new CustomEvent(ev.data.type, { detail: ev.data }));
    }
  });
  document.addEventListener("keydown", function(ev) {
    if (!(ev.metaKey || ev.ctrlKey)) return;
    var digit = ev.key;
    if (digit >= "1" && digit <= "9") {
      window.parent.postMessage({ type: "pinacle-keyboard-shortcut", key: digit }, "*");
    }
  });
})();
</script>`

// NewNonce returns a URL-safe random CSP nonce.
func NewNonce() (string, error) {
	return password.Generate(24, 10, 0, false, true)
}

var (
	headOpenTag = regexp.MustCompile(`(?i)<head[^>]*>`)
	bodyOpenTag = regexp.MustCompile(`(?i)<body[^>]*>`)
	htmlOpenTag = regexp.MustCompile(`(?i)<html[^>]*>`)

	cspScriptSrc = regexp.MustCompile(`(?i)(script-src)([^;]*)`)
)

// InjectScript inserts the embed-bridge script immediately after <head>, or
// failing that <body>, or failing that <html>, in that preference order. ok
// is false if none of the three tags were found -- callers emit the body
// unmodified in that case.
func InjectScript(html, nonce string) (out string, ok bool) {
	script := fmt.Sprintf(injectedScriptTemplate, nonce)

	if loc := headOpenTag.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + script + html[loc[1]:], true
	}
	if loc := bodyOpenTag.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + script + html[loc[1]:], true
	}
	if loc := htmlOpenTag.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + script + html[loc[1]:], true
	}
	return html, false
}

// RewriteCSP adds nonce-<nonce> to an existing Content-Security-Policy
// header's script-src directive, or appends a permissive script-src if the
// header has none. An empty input header returns an empty string (no CSP to
// rewrite; the page had none).
func RewriteCSP(header, nonce string) string {
	if header == "" {
		return ""
	}
	addition := fmt.Sprintf(" 'nonce-%s'", nonce)
	if cspScriptSrc.MatchString(header) {
		return cspScriptSrc.ReplaceAllString(header, "$1$2"+addition)
	}
	return strings.TrimRight(header, "; ") + "; script-src 'self'" + addition
}

// RewriteHTMLHeaders strips headers the embed contract forbids, rewrites
// Content-Security-Policy with nonce, and fixes up Content-Length for the
// (possibly now longer) body.
func RewriteHTMLHeaders(header map[string][]string, nonce string, newBodyLen int) {
	delete(header, "Cross-Origin-Opener-Policy")
	delete(header, "X-Frame-Options")
	if csp := firstHeader(header, "Content-Security-Policy"); csp != "" {
		header["Content-Security-Policy"] = []string{RewriteCSP(csp, nonce)}
	}
	header["Content-Length"] = []string{strconv.Itoa(newBodyLen)}
}

func firstHeader(header map[string][]string, key string) string {
	v, ok := header[key]
	if !ok || len(v) == 0 {
		return ""
	}
	return v[0]
}
