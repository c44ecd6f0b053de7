package model

import (
	"context"
	"time"
)

// Site is a career page the pipeline scans. Owned by configuration storage.
type Site struct {
	ID       string
	Name     string
	URL      string // target page, also the base for resolving links
	Selector string // CSS selector for the content root
	PromptID string
	Active   bool
}

// Prompt holds the user's free-text matching criteria.
type Prompt struct {
	ID       string
	Name     string
	Criteria string
	Active   bool
}

// ContentItem is one visible text fragment and the link it sits under, if any.
type ContentItem struct {
	Text string  `json:"text"`
	Link *string `json:"link"`
}

// ScrapedContent is the ordered, de-duplicated output of content extraction.
type ScrapedContent []ContentItem

// RawPosting is a candidate job as returned by the language model.
type RawPosting struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Location       string  `json:"location"`
	Description    string  `json:"description"`
	Recommendation string  `json:"recommendation"`
	Recommended    bool    `json:"recommended"`
	PostedDate     *string `json:"posted_date"`
}

type JobStatus string

const (
	JobStatusNew       JobStatus = "new"
	JobStatusApplied   JobStatus = "applied"
	JobStatusInterview JobStatus = "interview"
	JobStatusOffer     JobStatus = "offer"
	JobStatusRejected  JobStatus = "rejected"
	JobStatusSkipped   JobStatus = "skipped"
)

type DuplicateStatus string

const (
	DuplicateUnique    DuplicateStatus = "unique"
	DuplicateSuspected DuplicateStatus = "suspected_duplicate"
	// DuplicateConfirmed is only ever set by a human reviewer.
	DuplicateConfirmed DuplicateStatus = "confirmed_duplicate"
)

// JobPosting is a persisted posting found during a run.
type JobPosting struct {
	ID                  string
	SiteID              string
	RunID               string
	Title               string
	URL                 string
	Location            string
	Description         string
	Recommendation      string
	Recommended         bool
	PostedDate          *string
	Status              JobStatus
	DuplicateStatus     DuplicateStatus
	DuplicationIdentity string
	CreatedAt           time.Time
}

// ChangeRecord marks a (content, criteria, instructions) combination as processed for a site.
type ChangeRecord struct {
	SiteID           string
	ContentHash      string
	PromptHash       string
	InstructionsHash string
	CreatedAt        time.Time
}

type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// ScrapeRun is one invocation covering a set of sites.
type ScrapeRun struct {
	ID          string
	Status      RunStatus
	Total       int
	Successful  int
	Failed      int
	NewPostings int
	Comment     string
	StartedAt   time.Time
	CompletedAt *time.Time
}

type TaskResult string

const (
	TaskHashExists TaskResult = "hash_exists"
	TaskNewData    TaskResult = "new_data"
	TaskError      TaskResult = "error"
)

// ScrapeTask is one site's outcome within a run.
type ScrapeTask struct {
	ID          string
	RunID       string
	SiteID      string
	Result      TaskResult
	NewPostings int
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// UsageRecord is a write-only audit entry for one language-model call.
type UsageRecord struct {
	ID               string
	RunID            string
	SiteID           string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Prompt           string
	ScrapedContent   string
	Output           string
	CreatedAt        time.Time
}

// Store is the persistence boundary consumed by the pipeline.
type Store interface {
	ActiveSites(ctx context.Context, ids []string) ([]Site, error)
	Prompt(ctx context.Context, id string) (Prompt, error)
	DuplicationIdentities(ctx context.Context) (map[string]struct{}, error)
	HasChangeRecord(ctx context.Context, rec ChangeRecord) (bool, error)
	ErrorTasks(ctx context.Context, runID string) ([]ScrapeTask, error)

	CreateRun(ctx context.Context, run ScrapeRun) error
	UpdateRun(ctx context.Context, run ScrapeRun) error
	CreateTask(ctx context.Context, task ScrapeTask) error
	CreatePostings(ctx context.Context, postings []JobPosting) error
	CreateChangeRecord(ctx context.Context, rec ChangeRecord) error
	CreateUsage(ctx context.Context, usage UsageRecord) error
}

// Notifier receives run progress and completion events.
type Notifier interface {
	Progress(p RunProgress)
	Completed(e CompletionEvent)
}

// PageFetcher returns the outer markup of the first element matching selector.
type PageFetcher interface {
	Fetch(ctx context.Context, url, selector string) (string, error)
}
