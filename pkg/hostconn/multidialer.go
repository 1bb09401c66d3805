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

package hostconn

import "context"

// MultiDialer picks SSH or local-VM transport per host descriptor, so
// callers holding a Dialer never need to know which fleet a given host
// belongs to.
type MultiDialer struct {
	SSH     Dialer
	LocalVM Dialer
}

// Open dials host.IsLocalVM() through LocalVM, everything else through SSH.
func (d *MultiDialer) Open(ctx context.Context, host HostDescriptor) (Conn, error) {
	if host.IsLocalVM() {
		return d.LocalVM.Open(ctx, host)
	}
	return d.SSH.Open(ctx, host)
}
