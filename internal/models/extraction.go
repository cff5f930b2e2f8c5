package models

import (
	"fmt"
	"time"
)

// Template identifies the target-site scraping profile. It determines the
// selector sets the engine uses and the shape of the extracted records.
type Template string

const (
	TemplateMapsSearch    Template = "maps-search"
	TemplateProductDetail Template = "product-detail"
	TemplateReviewList    Template = "review-list"
)

func (t Template) Valid() bool {
	switch t {
	case TemplateMapsSearch, TemplateProductDetail, TemplateReviewList:
		return true
	}
	return false
}

// Status is the lifecycle state of an extraction. Transitions are monotonic
// along draft -> scheduled -> running -> completed/failed; the only backward
// edge is scheduled -> draft via an explicit unschedule.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// CanTransition reports whether moving from s to next is a legal edge.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusScheduled || next == StatusRunning
	case StatusScheduled:
		return next == StatusRunning || next == StatusDraft
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Params are the template-specific inputs of a run. A scheduled job carries a
// snapshot of these, so later edits never change a pending run.
type Params struct {
	Query          string `json:"query,omitempty"`
	URL            string `json:"url,omitempty"`
	City           string `json:"city,omitempty"`
	Country        string `json:"country,omitempty"`
	MaxResults     int    `json:"max_results,omitempty"`
	EnrichContacts bool   `json:"enrich_contacts,omitempty"`
}

// Validate checks the parameters a template cannot run without.
func (p Params) Validate(t Template) error {
	switch t {
	case TemplateMapsSearch:
		if p.Query == "" {
			return fmt.Errorf("query is required for %s", t)
		}
	case TemplateProductDetail, TemplateReviewList:
		if p.URL == "" {
			return fmt.Errorf("url is required for %s", t)
		}
	default:
		return fmt.Errorf("unknown template %q", t)
	}
	if p.MaxResults < 0 {
		return fmt.Errorf("max_results must not be negative")
	}
	return nil
}

// Extraction is one unit of scraping work owned by a user.
type Extraction struct {
	ID            string   `json:"id"`
	OwnerID       string   `json:"owner_id"`
	Name          string   `json:"name"`
	Template      Template `json:"template"`
	Params        Params   `json:"params"`
	Status        Status   `json:"status"`
	FailureReason string   `json:"failure_reason,omitempty"`

	IsScheduled   bool       `json:"is_scheduled"`
	ScheduleJobID string     `json:"schedule_job_id,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`

	Monitoring      *MonitoringSnapshot `json:"monitoring,omitempty"`
	ResultID        string              `json:"result_id,omitempty"`
	CreditsConsumed int                 `json:"credits_consumed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MonitoringSnapshot is the per-run telemetry record, produced exactly once
// and attached to the extraction on completion.
type MonitoringSnapshot struct {
	DurationMs        int64  `json:"duration_ms"`
	PagesVisited      int    `json:"pages_visited"`
	SuccessfulScrapes int    `json:"successful_scrapes"`
	FailedScrapes     int    `json:"failed_scrapes"`
	ProxyUsed         bool   `json:"proxy_used"`
	ProxyHost         string `json:"proxy_host,omitempty"`
}

// ProxyConfig describes one upstream proxy. Immutable once selected for a
// run. The zero value means "no proxy".
type ProxyConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

// None reports whether this is the no-proxy sentinel.
func (p ProxyConfig) None() bool {
	return p.Host == ""
}

// Server renders the proxy as a scheme://host:port address for the browser.
func (p ProxyConfig) Server() string {
	if p.None() {
		return ""
	}
	protocol := p.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, p.Host, p.Port)
}
