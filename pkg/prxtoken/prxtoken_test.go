package prxtoken

import (
	"testing"
	"time"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer, err := NewSigner("a-shared-secret")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	now := time.Now()
	claims := Claims{UserID: "user_1", PodID: "pod_1", PodSlug: "my-pod", TargetPort: 3000}

	token, err := signer.Sign(claims, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, err := signer.Verify(token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.PodID != claims.PodID || got.PodSlug != claims.PodSlug || got.TargetPort != claims.TargetPort {
		t.Fatalf("round-tripped claims mismatch: got %+v, want %+v", got, claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	signer, _ := NewSigner("secret")
	now := time.Now()
	token, err := signer.Sign(Claims{PodID: "pod_1"}, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	_, err = signer.Verify(token, now.Add(MaxLifetime+time.Second))
	if apierrors.KindOf(err) != apierrors.KindUnauthorized {
		t.Fatalf("expected KindUnauthorized for expired token, got %v", err)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	signer, _ := NewSigner("secret")
	now := time.Now()
	token, err := signer.Sign(Claims{PodID: "pod_1"}, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tampered := token[:len(token)-1] + "x"
	if _, err := signer.Verify(tampered, now); err == nil {
		t.Fatal("expected tampered token to fail verification")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	signerA, _ := NewSigner("secret-a")
	signerB, _ := NewSigner("secret-b")
	now := time.Now()

	token, err := signerA.Sign(Claims{PodID: "pod_1"}, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := signerB.Verify(token, now); apierrors.KindOf(err) != apierrors.KindUnauthorized {
		t.Fatalf("expected KindUnauthorized for wrong-key verification, got %v", err)
	}
}

func TestSignRefusesLifetimeBeyondMax(t *testing.T) {
	signer, _ := NewSigner("secret")
	now := time.Now()
	_, err := signer.Sign(Claims{PodID: "pod_1", ExpiresAt: now.Add(MaxLifetime * 2)}, now)
	if err == nil {
		t.Fatal("expected error for lifetime exceeding MaxLifetime")
	}
}

func TestNewSignerRejectsEmptyKey(t *testing.T) {
	if _, err := NewSigner(""); err == nil {
		t.Fatal("expected error for empty signing key")
	}
}
