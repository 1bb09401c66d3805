package model

import "testing"

func TestValidSlug(t *testing.T) {
	testcases := []struct {
		name string
		slug string
		want bool
	}{
		{name: "simple lowercase", slug: "my-pod", want: true},
		{name: "digits allowed", slug: "pod123", want: true},
		{name: "single char too short", slug: "a", want: false},
		{name: "uppercase rejected", slug: "My-Pod", want: false},
		{name: "leading hyphen rejected", slug: "-my-pod", want: false},
		{name: "underscore rejected", slug: "my_pod", want: false},
		{name: "empty rejected", slug: "", want: false},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidSlug(tc.slug); got != tc.want {
				t.Fatalf("ValidSlug(%q) = %v, want %v", tc.slug, got, tc.want)
			}
		})
	}
}

func TestTierByName(t *testing.T) {
	tier, ok := TierByName("dev.medium")
	if !ok {
		t.Fatal("expected dev.medium to be a known tier")
	}
	if tier.Rank != 2 || tier.CPUCores != 2 {
		t.Fatalf("unexpected tier fields: %+v", tier)
	}

	if _, ok := TierByName("dev.nonexistent"); ok {
		t.Fatal("expected unknown tier name to return ok=false")
	}
}

func TestTiersAreTotallyOrderedByRank(t *testing.T) {
	seenRanks := map[int]string{}
	for name, tier := range Tiers {
		if other, dup := seenRanks[tier.Rank]; dup {
			t.Fatalf("tiers %q and %q share rank %d", name, other, tier.Rank)
		}
		seenRanks[tier.Rank] = name
	}
}

func TestPodPortLookup(t *testing.T) {
	pod := Pod{
		Ports: []PortMapping{
			{Name: NginxProxyPortName, Internal: 80, External: 41000},
			{Name: "extra", Internal: 9000, External: 41001},
		},
	}

	pm, ok := pod.Port(NginxProxyPortName)
	if !ok || pm.External != 41000 {
		t.Fatalf("expected to find nginx-proxy port, got %+v ok=%v", pm, ok)
	}

	if _, ok := pod.Port("missing"); ok {
		t.Fatal("expected missing port name to return ok=false")
	}
}

func TestPodIsArchived(t *testing.T) {
	var pod Pod
	if pod.IsArchived() {
		t.Fatal("expected a fresh pod to not be archived")
	}

	archivedAt := pod.CreatedAt
	pod.ArchivedAt = &archivedAt
	if !pod.IsArchived() {
		t.Fatal("expected pod with ArchivedAt set to be archived")
	}
}

func TestServerIsLocalVM(t *testing.T) {
	remote := Server{IPAddress: "203.0.113.5"}
	if remote.IsLocalVM() {
		t.Fatal("expected server with no LocalVMName to not be a local VM")
	}

	local := Server{LocalVMName: "dev-vm-1"}
	if !local.IsLocalVM() {
		t.Fatal("expected server with LocalVMName set to be a local VM")
	}
}
