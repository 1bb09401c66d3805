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

package model

// Tiers is the constant tier -> resource-limit table the core consumes.
// Storage is enforced as a per-volume quota when the runtime supports it,
// otherwise advisory.
var Tiers = map[string]Tier{
	"dev.micro": {Name: "dev.micro", Rank: 0, CPUCores: 0.5, MemoryMB: 512, StorageMB: 2048},
	"dev.small": {Name: "dev.small", Rank: 1, CPUCores: 1, MemoryMB: 1024, StorageMB: 5120},
	"dev.medium": {Name: "dev.medium", Rank: 2, CPUCores: 2, MemoryMB: 2048, StorageMB: 10240},
	"dev.large": {Name: "dev.large", Rank: 3, CPUCores: 4, MemoryMB: 4096, StorageMB: 20480},
}

// TierByName looks up a tier, returning ok=false for an unknown name.
func TierByName(name string) (Tier, bool) {
	t, ok := Tiers[name]
	return t, ok
}

// Template describes an image/provisioning template. The catalog contents
// (how templates are authored, stored, versioned) are out of scope; the
// core only ever consumes this typed descriptor.
type Template struct {
	Name  string
	Image string

	// Ports this template publishes in addition to NginxProxyPortName.
	Ports []PortMapping

	// Services installed in deterministic order during step 8.
	Services []string

	// PostInstallHook is run as step 9, once, after Services.
	PostInstallHook string

	// PreSnapshotHook is an optional quiescing command that Snapshot Engine
	// Create runs inside the pod's container before exporting its volumes;
	// a failing hook is logged and the export goes ahead. Empty means no
	// hook.
	PreSnapshotHook string

	// BootstrapFiles are /etc and SSH-key files written during step 7,
	// keyed by absolute in-container path.
	BootstrapFiles map[string]string
}
