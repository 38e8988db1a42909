package scheduler

// SendJob is the payload carried by email-sending and campaign-followup
// queue jobs. It holds identifiers only; the worker re-fetches lead, step,
// run, and account state fresh at dispatch time.
type SendJob struct {
	LeadID     string `json:"leadId"`
	CampaignID string `json:"campaignId"`
	StepID     string `json:"stepId"`
	AccountID  string `json:"emailAccountId"`
	RunID      string `json:"campaignRunId"`

	// CheckNoOpen marks a follow-up scheduled under a no_open condition:
	// the worker suppresses the send if the lead has any OPEN activity in
	// this campaign by dispatch time.
	CheckNoOpen bool `json:"checkNoOpen,omitempty"`
}
