package deskflow

// ActionRequest is everything an action executor sees for one invocation.
type ActionRequest struct {
	TenantID    string         `json:"tenant_id"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	NodeID      string         `json:"node_id"`
	Config      ActionConfig   `json:"config"`
	Trigger     TriggerContext `json:"trigger"`
	// Conversation is the snapshot loaded for this run, if any.
	Conversation *Conversation `json:"conversation,omitempty"`
}

// Param returns a string parameter from the action config.
func (r *ActionRequest) Param(key string) string {
	if r.Config.Params == nil {
		return ""
	}
	s, _ := r.Config.Params[key].(string)
	return s
}
