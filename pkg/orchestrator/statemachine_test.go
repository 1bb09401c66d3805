package orchestrator

import (
	"testing"

	"github.com/rogeriochaves/pinacle/pkg/model"
)

func TestCanTransitionLegalEdges(t *testing.T) {
	testcases := []struct {
		name string
		from model.PodStatus
		event string
		want  model.PodStatus
	}{
		{name: "creating to provisioning", from: model.PodCreating, event: "BeginProvision", want: model.PodProvisioning},
		{name: "provisioning to running", from: model.PodProvisioning, event: "AllStepsOk", want: model.PodRunning},
		{name: "provisioning to error", from: model.PodProvisioning, event: "StepFailed", want: model.PodError},
		{name: "running to stopping", from: model.PodRunning, event: "Stop", want: model.PodStopping},
		{name: "stopping to stopped", from: model.PodStopping, event: "Stopped", want: model.PodStopped},
		{name: "stopped to provisioning on start", from: model.PodStopped, event: "Start", want: model.PodProvisioning},
		{name: "running to deleting", from: model.PodRunning, event: "Delete", want: model.PodDeleting},
		{name: "stopped to deleting", from: model.PodStopped, event: "Delete", want: model.PodDeleting},
		{name: "error to deleting", from: model.PodError, event: "Delete", want: model.PodDeleting},
		{name: "error to provisioning on retry", from: model.PodError, event: "Retry", want: model.PodProvisioning},
		{name: "fail is reachable from any state", from: model.PodRunning, event: "Fail", want: model.PodError},
		{name: "fail is reachable even from creating", from: model.PodCreating, event: "Fail", want: model.PodError},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := canTransition(tc.from, tc.event)
			if !ok {
				t.Fatalf("expected %s/%s to be a legal transition", tc.from, tc.event)
			}
			if got != tc.want {
				t.Fatalf("canTransition(%s, %s) = %s, want %s", tc.from, tc.event, got, tc.want)
			}
		})
	}
}

func TestCanTransitionRejectsIllegalEdges(t *testing.T) {
	testcases := []struct {
		name  string
		from  model.PodStatus
		event string
	}{
		{name: "cannot start from running", from: model.PodRunning, event: "Start"},
		{name: "cannot stop from stopped", from: model.PodStopped, event: "Stop"},
		{name: "cannot begin provision twice", from: model.PodProvisioning, event: "BeginProvision"},
		{name: "unknown event", from: model.PodRunning, event: "Teleport"},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := canTransition(tc.from, tc.event); ok {
				t.Fatalf("expected %s/%s to be an illegal transition", tc.from, tc.event)
			}
		})
	}
}
