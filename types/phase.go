package types

// PhaseName names one ordered step in a trial's bring-up/run/validate sequence.
type PhaseName string

// Phase names, in execution order. Phases execute strictly in this order
// within one attempt; no skipping, no going back.
const (
	PhaseControlPlaneUp   PhaseName = "ControlPlaneUp"
	PhaseCoreUp           PhaseName = "CoreUp"
	PhaseRadioNodeUp      PhaseName = "RadioNodeUp"
	PhaseNamespacesReady  PhaseName = "NamespacesReady"
	PhaseClientsAttached  PhaseName = "ClientsAttached"
	PhaseScenarioRunning  PhaseName = "ScenarioRunning"
	PhaseClientsConnected PhaseName = "ClientsConnected"
	PhaseTrafficRunning   PhaseName = "TrafficRunning"
	PhaseValidated        PhaseName = "Validated"
)

// PhaseSequence is the canonical ordered phase list.
var PhaseSequence = []PhaseName{
	PhaseControlPlaneUp,
	PhaseCoreUp,
	PhaseRadioNodeUp,
	PhaseNamespacesReady,
	PhaseClientsAttached,
	PhaseScenarioRunning,
	PhaseClientsConnected,
	PhaseTrafficRunning,
	PhaseValidated,
}

// PhaseIndex returns the ordering position of the named phase,
// or -1 if the name is unknown.
func PhaseIndex(name PhaseName) int {
	for i, p := range PhaseSequence {
		if p == name {
			return i
		}
	}
	return -1
}
