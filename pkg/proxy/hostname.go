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

// Package proxy is the Authenticated Subdomain Proxy (C7): it parses the
// pod-routing hostname grammar, issues and verifies scoped capability
// tokens (pkg/prxtoken), maintains a per-pod upstream pool, and injects a
// small client-side script into HTML responses while streaming everything
// else -- including WebSocket upgrades -- unchanged.
package proxy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hostnamePattern = regexp.MustCompile(`^localhost-(\d+)\.pod-([a-z0-9][a-z0-9-]{1,62})\.(.+)$`)

// Route is the decoded target of a proxy-routed hostname.
type Route struct {
	TargetPort int
	PodSlug    string
	BaseDomain string
}

// ParseHostname extracts a Route from host (the Request.Host header; any
// ":<port>" suffix is stripped before matching). ok is false for any
// hostname that does not match the grammar -- callers pass those through to
// the application router unchanged.
func ParseHostname(host string) (Route, bool) {
	host = stripPort(host)
	m := hostnamePattern.FindStringSubmatch(host)
	if m == nil {
		return Route{}, false
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port < 1 || port > 65535 {
		return Route{}, false
	}
	return Route{TargetPort: port, PodSlug: m[2], BaseDomain: m[3]}, true
}

// CanonicalHostname builds the in-pod Host header form the upstream
// nginx-proxy expects.
func CanonicalHostname(targetPort int, podSlug, baseDomain string) string {
	return fmt.Sprintf("localhost-%d.pod-%s.%s", targetPort, podSlug, baseDomain)
}

func stripPort(host string) string {
	if i := strings.LastIndex(host, ":"); i != -1 {
		return host[:i]
	}
	return host
}
