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

package controlplane

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/prxtoken"
)

// handleProxyAuth mints a scoped capability token for the requesting pod's
// subdomain and bounces the browser back to the proxy's callback, which
// stores it as an httpOnly cookie. There is no end-user login here -- the
// access control this spec scopes to is "does this slug+port pair exist and
// resolve to a live pod", not per-user identity.
func (s *Server) handleProxyAuth(w http.ResponseWriter, r *http.Request) {
	if s.proxySigner == nil {
		s.writeError(w, "proxy auth requested but no signer configured", apierrors.New(apierrors.KindInvariant, "proxy auth is not enabled on this server"))
		return
	}

	q := r.URL.Query()
	podSlug := q.Get("pod_slug")
	proxyHost := q.Get("proxy_host")
	returnURL := q.Get("return_url")
	embed := q.Get("embed") == "true"

	targetPort, err := strconv.Atoi(q.Get("target_port"))
	if err != nil || targetPort < 1 || targetPort > 65535 {
		s.writeError(w, "proxy auth: bad target_port", apierrors.New(apierrors.KindInvariant, "target_port is missing or out of range"))
		return
	}
	if podSlug == "" || proxyHost == "" {
		s.writeError(w, "proxy auth: missing params", apierrors.New(apierrors.KindInvariant, "pod_slug and proxy_host are required"))
		return
	}

	pod, err := s.pods.GetBySlug(r.Context(), podSlug)
	if err != nil {
		s.writeError(w, "proxy auth: pod lookup failed", err)
		return
	}
	if pod.IsArchived() {
		s.writeError(w, "proxy auth: pod archived", apierrors.New(apierrors.KindNotFound, "pod is archived"))
		return
	}

	token, err := s.proxySigner.Sign(prxtoken.Claims{
		PodID:      pod.ID,
		PodSlug:    pod.Slug,
		TargetPort: targetPort,
	}, time.Now())
	if err != nil {
		s.writeError(w, "proxy auth: sign failed", err)
		return
	}

	callback := url.URL{
		Scheme: "http",
		Host:   proxyHost,
		Path:   "/pinacle-proxy-callback",
	}
	cq := callback.Query()
	cq.Set("token", token)
	if returnURL != "" {
		cq.Set("return_url", returnURL)
	}
	if embed {
		cq.Set("embed", "true")
	}
	callback.RawQuery = cq.Encode()

	http.Redirect(w, r, callback.String(), http.StatusFound)
}
