package models

// PolicyDecision is the outcome of a policy check for one tool call.
type PolicyDecision struct {
	Allowed              bool   `json:"allowed"`
	Reason               string `json:"reason"`
	RequiresConfirmation bool   `json:"requires_confirmation,omitempty"`
}
