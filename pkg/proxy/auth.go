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
	"net/http"
	"time"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/prxtoken"
)

// CookieName is the httpOnly cookie the proxy reads on every subsequent
// request once the capability flow has completed once per hostname.
const CookieName = "pinacle-proxy-token"

// CallbackPath is where the control plane's auth redirect lands, carrying
// the freshly-minted token.
const CallbackPath = "/pinacle-proxy-callback"

// setAuthCookie sets CookieName scoped to the request's host, with
// SameSite=None;Secure;Partitioned for embedded iframes and
// SameSite=Lax(;Secure outside dev) for top-level navigation. Partitioned
// isn't a field on the stdlib http.Cookie in this Go version, so the embed
// case appends it to the rendered Set-Cookie value by hand.
func setAuthCookie(w http.ResponseWriter, host, token string, embed, secure bool, maxAge time.Duration) {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Domain:   host,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(maxAge.Seconds()),
	}
	if embed {
		cookie.SameSite = http.SameSiteNoneMode
		cookie.Secure = true
		w.Header().Add("Set-Cookie", cookie.String()+"; Partitioned")
		return
	}
	cookie.SameSite = http.SameSiteLaxMode
	cookie.Secure = secure
	http.SetCookie(w, cookie)
}

// authenticate extracts and verifies the request's scoped token, confirming
// it grants access to route. Returns apierrors.KindUnauthorized for a
// missing/expired/malformed token and apierrors.KindForbidden for a
// (slug, port) mismatch against the hostname being requested.
func authenticate(signer *prxtoken.Signer, r *http.Request, route Route) (prxtoken.Claims, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return prxtoken.Claims{}, apierrors.New(apierrors.KindUnauthorized, "missing proxy token cookie")
	}
	claims, err := signer.Verify(c.Value, time.Now())
	if err != nil {
		return prxtoken.Claims{}, err
	}
	if claims.PodSlug != route.PodSlug || claims.TargetPort != route.TargetPort {
		return prxtoken.Claims{}, apierrors.New(apierrors.KindForbidden, "token scope does not match hostname")
	}
	return claims, nil
}
