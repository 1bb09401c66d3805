package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/prxtoken"
)

func TestSetAuthCookieEmbedVariantAddsPartitionedAndSameSiteNone(t *testing.T) {
	w := httptest.NewRecorder()
	setAuthCookie(w, "localhost-3000.pod-my-pod.pinacle.dev", "tok", true, true, time.Minute)

	set := w.Header().Get("Set-Cookie")
	for _, want := range []string{"SameSite=None", "Secure", "Partitioned", "HttpOnly"} {
		if !strings.Contains(set, want) {
			t.Fatalf("expected Set-Cookie to contain %q, got %q", want, set)
		}
	}
}

func TestSetAuthCookieTopLevelVariantUsesLax(t *testing.T) {
	w := httptest.NewRecorder()
	setAuthCookie(w, "localhost-3000.pod-my-pod.pinacle.dev", "tok", false, false, time.Minute)

	set := w.Header().Get("Set-Cookie")
	if !strings.Contains(set, "SameSite=Lax") {
		t.Fatalf("expected Set-Cookie to contain SameSite=Lax, got %q", set)
	}
	if strings.Contains(set, "Partitioned") {
		t.Fatalf("did not expect Partitioned on non-embed cookie, got %q", set)
	}
}

func TestAuthenticateRejectsMissingCookie(t *testing.T) {
	signer, _ := prxtoken.NewSigner("secret")
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := authenticate(signer, r, Route{PodSlug: "my-pod", TargetPort: 3000})
	if apierrors.KindOf(err) != apierrors.KindUnauthorized {
		t.Fatalf("expected KindUnauthorized, got %v", err)
	}
}

func TestAuthenticateRejectsScopeMismatch(t *testing.T) {
	signer, _ := prxtoken.NewSigner("secret")
	token, err := signer.Sign(prxtoken.Claims{PodSlug: "my-pod", TargetPort: 3000}, time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: token})

	_, err = authenticate(signer, r, Route{PodSlug: "other-pod", TargetPort: 3000})
	if apierrors.KindOf(err) != apierrors.KindForbidden {
		t.Fatalf("expected KindForbidden for scope mismatch, got %v", err)
	}
}

func TestAuthenticateAcceptsMatchingScope(t *testing.T) {
	signer, _ := prxtoken.NewSigner("secret")
	token, err := signer.Sign(prxtoken.Claims{PodSlug: "my-pod", TargetPort: 3000}, time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: token})

	claims, err := authenticate(signer, r, Route{PodSlug: "my-pod", TargetPort: 3000})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.PodSlug != "my-pod" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}
