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

package orchestrator

import "github.com/rogeriochaves/pinacle/pkg/model"

// transition is one legal edge of the provisioning state machine
// legal per the provisioning lifecycle.
type transition struct {
	from  model.PodStatus
	event string
	to    model.PodStatus
}

var transitions = []transition{
	{model.PodCreating, "BeginProvision", model.PodProvisioning},
	{model.PodProvisioning, "StepFailed", model.PodError},
	{model.PodProvisioning, "AllStepsOk", model.PodRunning},
	{model.PodRunning, "Stop", model.PodStopping},
	{model.PodStopping, "Stopped", model.PodStopped},
	{model.PodStopped, "Start", model.PodProvisioning},
	{model.PodRunning, "Delete", model.PodDeleting},
	{model.PodStopped, "Delete", model.PodDeleting},
	{model.PodError, "Delete", model.PodDeleting},
	{model.PodError, "Retry", model.PodProvisioning},
}

// canTransition reports whether event is legal from from, and if so the
// resulting state. Any state may move to PodError via "Fail" -- that edge
// is intentionally left out of the table since it is reachable from every
// state rather than one specific row.
func canTransition(from model.PodStatus, event string) (model.PodStatus, bool) {
	if event == "Fail" {
		return model.PodError, true
	}
	for _, t := range transitions {
		if t.from == from && t.event == event {
			return t.to, true
		}
	}
	return "", false
}
