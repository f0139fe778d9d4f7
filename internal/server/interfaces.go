package server

import (
	"context"
	"time"
)

// Syncer runs a sync of the named models
type Syncer interface {
	SyncAll(ctx context.Context, models []string) (*SyncResult, error)
}

// SyncResult summarizes one sync run across models
type SyncResult struct {
	Models []ModelSyncResult
	Errors []error
}

// ModelSyncResult summarizes the sync of a single model
type ModelSyncResult struct {
	Model    string        `json:"model"`
	Items    int           `json:"items"`
	Deleted  int           `json:"deleted"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// TotalItems returns the number of records synced across models
func (r *SyncResult) TotalItems() int {
	total := 0
	for _, m := range r.Models {
		total += m.Items
	}
	return total
}
