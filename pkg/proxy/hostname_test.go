package proxy

import "testing"

func TestParseHostname(t *testing.T) {
	testcases := []struct {
		name string
		host string
		want Route
		ok   bool
	}{
		{
			name: "valid with explicit port suffix",
			host: "localhost-3000.pod-my-pod.pinacle.dev:443",
			want: Route{TargetPort: 3000, PodSlug: "my-pod", BaseDomain: "pinacle.dev"},
			ok:   true,
		},
		{
			name: "valid without port suffix",
			host: "localhost-8080.pod-abc123.example.com",
			want: Route{TargetPort: 8080, PodSlug: "abc123", BaseDomain: "example.com"},
			ok:   true,
		},
		{
			name: "not our grammar at all",
			host: "example.com",
			ok:   false,
		},
		{
			name: "missing pod- prefix",
			host: "localhost-3000.my-pod.example.com",
			ok:   false,
		},
		{
			name: "port out of range",
			host: "localhost-99999.pod-abc.example.com",
			ok:   false,
		},
		{
			name: "non-numeric port segment",
			host: "localhost-abc.pod-abc.example.com",
			ok:   false,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseHostname(tc.host)
			if ok != tc.ok {
				t.Fatalf("ParseHostname(%q) ok = %v, want %v", tc.host, ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("ParseHostname(%q) = %+v, want %+v", tc.host, got, tc.want)
			}
		})
	}
}

func TestCanonicalHostnameRoundTrip(t *testing.T) {
	host := CanonicalHostname(3000, "my-pod", "pinacle.dev")
	route, ok := ParseHostname(host)
	if !ok {
		t.Fatalf("ParseHostname(%q) failed to parse its own CanonicalHostname output", host)
	}
	if route.TargetPort != 3000 || route.PodSlug != "my-pod" || route.BaseDomain != "pinacle.dev" {
		t.Fatalf("round-tripped route mismatch: %+v", route)
	}
}
