// Package models defines data structures for the scraper.
package models

import (
	"strings"
	"time"
)

// ListingPage is one page of a paginated listing as seen by the traversal.
type ListingPage struct {
	Index     int
	URL       string
	Items     []ItemReference
	NextURL   string
	TotalHint int
}

// ItemReference identifies one record's detail page.
type ItemReference struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Rank int    `json:"rank"`
}

// FetchResult is the outcome of retrieving one ItemReference.
type FetchResult struct {
	Ref     ItemReference
	OK      bool
	Payload string
	Err     string
	Kind    string // error category of a failed result
	Retries int
}

// Component is one role-tagged chemical component of a reaction.
type Component struct {
	Name           string `json:"name"`
	Representation string `json:"representation"`
	Role           string `json:"role"`
	Identifier     string `json:"identifier,omitempty"`
	Ratio          string `json:"ratio,omitempty"`
	Notes          string `json:"notes,omitempty"`
	Group          string `json:"group,omitempty"`
	Desired        bool   `json:"desired,omitempty"`
}

// RoleGroup holds the components sharing one role.
type RoleGroup struct {
	Display    string      `json:"display"`
	Components []Component `json:"components,omitempty"`
}

// NormalizedRecord is the canonical exported reaction.
type NormalizedRecord struct {
	Origin     string               `json:"origin"`
	SourceURL  string               `json:"source_url"`
	ReactionID string               `json:"reaction_id,omitempty"`
	Primary    string               `json:"primary"`
	Roles      map[string]RoleGroup `json:"roles"`
}

// Compact returns a copy of the record without per-role component lists.
func (r *NormalizedRecord) Compact() *NormalizedRecord {
	out := &NormalizedRecord{
		Origin:     r.Origin,
		SourceURL:  r.SourceURL,
		ReactionID: r.ReactionID,
		Primary:    r.Primary,
		Roles:      make(map[string]RoleGroup, len(r.Roles)),
	}
	for role, group := range r.Roles {
		out.Roles[role] = RoleGroup{Display: group.Display}
	}
	return out
}

// Displays maps each role to its joined display name.
func (r *NormalizedRecord) Displays() map[string]string {
	out := make(map[string]string, len(r.Roles))
	for role, group := range r.Roles {
		out[role] = group.Display
	}
	return out
}

// ComponentCount returns the total number of components across roles.
func (r *NormalizedRecord) ComponentCount() int {
	n := 0
	for _, group := range r.Roles {
		n += len(group.Components)
	}
	return n
}

// Failure describes one item that did not produce a record.
type Failure struct {
	Ref    ItemReference
	Kind   string
	Reason string
}

// BatchSummary reports the outcome of one listing's batch.
type BatchSummary struct {
	ID         string
	Origin     string
	ListingURL string
	Pages      int
	StopReason string
	Attempted  int
	Succeeded  int
	Failed     int
	Duplicates int
	Failures   []Failure
}

// ScraperResult holds the overall result of a scraping operation
type ScraperResult struct {
	Batches        []BatchSummary
	StartTime      time.Time
	EndTime        time.Time
	TotalCount     int
	DuplicateCount int
	ErrorCount     int
	ErrorsByType   map[string]int
	RetryCount     int
	PageCount      int
}

// FailedURLs lists the detail URLs of every failed item across batches.
func (r *ScraperResult) FailedURLs() []string {
	var out []string
	for _, b := range r.Batches {
		for _, f := range b.Failures {
			out = append(out, f.Ref.URL)
		}
	}
	return out
}

// NormalizeRole lower-cases and trims a declared role.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
