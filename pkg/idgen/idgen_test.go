package idgen

import (
	"strings"
	"testing"
)

func TestNewIDsHaveExpectedPrefixAndUniqueness(t *testing.T) {
	testcases := []struct {
		name    string
		gen     func() string
		prefix  string
	}{
		{name: "server", gen: NewServerID, prefix: "server_"},
		{name: "pod", gen: NewPodID, prefix: "pod_"},
		{name: "snapshot", gen: NewSnapshotID, prefix: "snap_"},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			seen := map[string]bool{}
			for i := 0; i < 100; i++ {
				id := tc.gen()
				if !strings.HasPrefix(id, tc.prefix) {
					t.Fatalf("id %q missing prefix %q", id, tc.prefix)
				}
				if seen[id] {
					t.Fatalf("duplicate id generated: %q", id)
				}
				seen[id] = true
			}
		})
	}
}
