package model

// SiteState is a position in the per-site state machine.
type SiteState string

const (
	StatePending    SiteState = "PENDING"
	StateScraping   SiteState = "SCRAPING"
	StateProcessing SiteState = "PROCESSING"
	StateComplete   SiteState = "COMPLETE"
	StateError      SiteState = "ERROR"
)

// Terminal reports whether no further transitions follow s.
func (s SiteState) Terminal() bool {
	return s == StateComplete || s == StateError
}

// SiteProgress is the live status of one site within a run.
type SiteProgress struct {
	SiteID      string     `json:"site_id"`
	SiteName    string     `json:"site_name"`
	State       SiteState  `json:"state"`
	Result      TaskResult `json:"result,omitempty"`
	NewPostings int        `json:"new_postings"`
	Error       string     `json:"error,omitempty"`
}

// RunProgress is a point-in-time snapshot of a run's per-site statuses.
type RunProgress struct {
	RunID string         `json:"run_id"`
	Sites []SiteProgress `json:"sites"`
	Done  bool           `json:"done"`
}

// Clone returns a deep copy so snapshots never alias live state.
func (p RunProgress) Clone() RunProgress {
	out := RunProgress{RunID: p.RunID, Done: p.Done}
	out.Sites = append([]SiteProgress(nil), p.Sites...)
	return out
}

// CompletionEvent is broadcast once a run has processed every site.
type CompletionEvent struct {
	RunID       string    `json:"run_id"`
	Status      RunStatus `json:"status"`
	NewPostings int       `json:"new_postings"`
	Successful  int       `json:"successful"`
	Failed      int       `json:"failed"`
}

// SiteOutcome is what a SiteRunner hands back to the orchestrator.
type SiteOutcome struct {
	Result      TaskResult
	NewPostings int
	Err         error
}
