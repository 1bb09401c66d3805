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

// Package templatecatalog is a static, in-process implementation of
// orchestrator.TemplateCatalog and snapshot.TemplateCatalog. How templates
// are authored, versioned, and distributed is out of scope; this package
// exists only so the two consumers above have something concrete to look
// templates up in at wiring time.
package templatecatalog

import "github.com/rogeriochaves/pinacle/pkg/model"

// Static is a fixed, in-memory set of templates keyed by name.
type Static struct {
	templates map[string]model.Template
}

// New builds a Static catalog seeded with the given templates, keyed by
// their Name field.
func New(templates ...model.Template) *Static {
	m := make(map[string]model.Template, len(templates))
	for _, t := range templates {
		m[t.Name] = t
	}
	return &Static{templates: m}
}

// TemplateByName looks up a template, returning ok=false for an unknown
// name.
func (s *Static) TemplateByName(name string) (model.Template, bool) {
	t, ok := s.templates[name]
	return t, ok
}

// Default is the bare-minimum Ubuntu-based dev-environment template, wired
// in so a fresh deployment has at least one valid template to provision
// against before any real catalog is plugged in.
var Default = model.Template{
	Name:  "ubuntu-dev",
	Image: "pinacle/ubuntu-dev:latest",
	Ports: []model.PortMapping{
		{Name: "ssh", Internal: 22, External: 0},
	},
	Services: []string{"sshd", "docker"},
}
