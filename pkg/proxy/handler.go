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
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/prxtoken"
)

// AuthURLBuilder builds the control-plane authentication redirect for the
// given route, carrying the proxy host to bounce back to and a return_url
// back to the original request.
type AuthURLBuilder func(route Route, proxyHost, returnURL string, embed bool) string

// Handler is the top-level proxy http.Handler: it parses the request
// hostname, runs the capability flow, resolves the upstream, and forwards
// the request -- injecting the embed-bridge script into HTML responses and
// passing WebSocket upgrades straight through.
type Handler struct {
	Pool       *Pool
	Signer     *prxtoken.Signer
	BaseDomain string
	DevMode    bool // disables Secure on non-embed cookies, for local HTTP testing.
	AuthURL    AuthURLBuilder
	Log        *zap.SugaredLogger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == CallbackPath {
		h.handleCallback(w, r)
		return
	}

	route, ok := ParseHostname(r.Host)
	if !ok {
		http.NotFound(w, r)
		return
	}

	claims, err := authenticate(h.Signer, r, route)
	if err != nil {
		if apierrors.Is(err, apierrors.KindForbidden) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		h.redirectToAuth(w, r, route)
		return
	}

	up, err := h.Pool.Get(r.Context(), UpstreamKey{PodID: claims.PodID, TargetPort: route.TargetPort})
	if err != nil {
		h.Log.Warnw("upstream resolution failed", "podId", claims.PodID, zap.Error(err))
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	if isWebSocketUpgrade(r) {
		h.proxyWebSocket(w, r, up)
		return
	}

	h.proxyHTTP(w, r, up)
}

func (h *Handler) redirectToAuth(w http.ResponseWriter, r *http.Request, route Route) {
	embed := r.URL.Query().Get("embed") == "true"
	returnURL := "http://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, h.AuthURL(route, r.Host, returnURL, embed), http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := h.Signer.Verify(token, time.Now())
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	route, ok := ParseHostname(r.Host)
	if !ok || claims.PodSlug != route.PodSlug || claims.TargetPort != route.TargetPort {
		http.Error(w, "token does not match hostname", http.StatusForbidden)
		return
	}

	embed := r.URL.Query().Get("embed") == "true"
	setAuthCookie(w, r.Host, token, embed, !h.DevMode, time.Until(claims.ExpiresAt))

	returnURL := r.URL.Query().Get("return_url")
	if returnURL == "" {
		returnURL = "http://" + r.Host + "/"
	}
	http.Redirect(w, r, returnURL, http.StatusFound)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Connection"), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// proxyHTTP forwards a plain request, injecting the embed-bridge script into
// HTML responses via ModifyResponse and streaming everything else through
// httputil.ReverseProxy unchanged.
func (h *Handler) proxyHTTP(w http.ResponseWriter, r *http.Request, up Upstream) {
	r.Header.Del("Accept-Encoding")
	r.Host = up.CanonicalHost

	proxy := &httputil.ReverseProxy{
		Director: up.Proxy.Director,
		ModifyResponse: func(resp *http.Response) error {
			ct := resp.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "text/html") {
				return nil
			}
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return err
			}

			nonce, err := NewNonce()
			if err != nil {
				h.Log.Warnw("csp nonce generation failed", zap.Error(err))
				nonce = "fallback"
			}
			injected, _ := InjectScript(string(body), nonce)
			RewriteHTMLHeaders(resp.Header, nonce, len(injected))
			resp.Body = io.NopCloser(strings.NewReader(injected))
			resp.ContentLength = int64(len(injected))
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.Log.Warnw("proxy request failed", "path", r.URL.Path, zap.Error(err))
			http.Error(w, "upstream error", http.StatusBadGateway)
		},
	}
	proxy.ServeHTTP(w, r)
}

// proxyWebSocket hijacks the client connection and splices it to a fresh TCP
// connection against the upstream, after replaying the original upgrade
// request with the canonical in-pod Host header. The cached Upstream's
// reverse proxy handle isn't reusable here -- httputil.ReverseProxy doesn't
// support hijacking -- so this dials the same target directly.
func (h *Handler) proxyWebSocket(w http.ResponseWriter, r *http.Request, up Upstream) {
	target, err := url.Parse(up.TargetBase)
	if err != nil {
		http.Error(w, "bad upstream target", http.StatusBadGateway)
		return
	}

	upstreamConn, err := net.Dial("tcp", target.Host)
	if err != nil {
		h.Log.Warnw("websocket dial failed", "target", target.Host, zap.Error(err))
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer upstreamConn.Close()

	r.Host = up.CanonicalHost
	if err := r.Write(upstreamConn); err != nil {
		h.Log.Warnw("websocket upgrade write failed", zap.Error(err))
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "websocket upgrade unsupported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hj.Hijack()
	if err != nil {
		h.Log.Warnw("websocket hijack failed", zap.Error(err))
		return
	}
	defer clientConn.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(upstreamConn, clientConn)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(clientConn, upstreamConn)
		done <- struct{}{}
	}()
	<-done
}
