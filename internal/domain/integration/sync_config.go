package integration

import (
	"fmt"
	"time"
)

// Sync config bounds
const (
	MinBatchSize  = 1
	MaxBatchSize  = 1000
	MaxBatchDelay = 60 * time.Second
	MaxRetryLimit = 10
)

// SyncConfig controls how a queue is processed. It is captured on the queue at
// creation so later changes to defaults never affect a running sync.
type SyncConfig struct {
	BatchSize         int
	BatchDelay        time.Duration
	MaxRetries        int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultSyncConfig returns the defaults applied when a caller does not override them
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		BatchSize:         50,
		BatchDelay:        2 * time.Second,
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        30 * time.Second,
	}
}

// SyncConfigOverrides carries caller supplied overrides. Nil fields keep the base value.
type SyncConfigOverrides struct {
	BatchSize         *int
	BatchDelayMs      *int64
	MaxRetries        *int
	InitialBackoffMs  *int64
	BackoffMultiplier *float64
}

// Merge applies overrides on top of c
func (c SyncConfig) Merge(o *SyncConfigOverrides) SyncConfig {
	if o == nil {
		return c
	}
	out := c
	if o.BatchSize != nil {
		out.BatchSize = *o.BatchSize
	}
	if o.BatchDelayMs != nil {
		out.BatchDelay = time.Duration(*o.BatchDelayMs) * time.Millisecond
	}
	if o.MaxRetries != nil {
		out.MaxRetries = *o.MaxRetries
	}
	if o.InitialBackoffMs != nil {
		out.InitialBackoff = time.Duration(*o.InitialBackoffMs) * time.Millisecond
	}
	if o.BackoffMultiplier != nil {
		out.BackoffMultiplier = *o.BackoffMultiplier
	}
	if out.MaxBackoff < out.InitialBackoff {
		out.MaxBackoff = out.InitialBackoff
	}
	return out
}

// Validate checks the config against the accepted bounds
func (c SyncConfig) Validate() error {
	if c.BatchSize < MinBatchSize || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("%w: batch_size must be between %d and %d", ErrInvalidSyncConfig, MinBatchSize, MaxBatchSize)
	}
	if c.BatchDelay < 0 || c.BatchDelay > MaxBatchDelay {
		return fmt.Errorf("%w: batch_delay_ms must be between 0 and %d", ErrInvalidSyncConfig, MaxBatchDelay.Milliseconds())
	}
	if c.MaxRetries < 0 || c.MaxRetries > MaxRetryLimit {
		return fmt.Errorf("%w: max_retries must be between 0 and %d", ErrInvalidSyncConfig, MaxRetryLimit)
	}
	if c.InitialBackoff < 0 {
		return fmt.Errorf("%w: initial_backoff_ms must not be negative", ErrInvalidSyncConfig)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff_multiplier must be at least 1", ErrInvalidSyncConfig)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("%w: max backoff must not be below initial backoff", ErrInvalidSyncConfig)
	}
	return nil
}

// MaxAttempts is the total attempt budget of one item
func (c SyncConfig) MaxAttempts() int {
	return c.MaxRetries + 1
}

// SyncFilter narrows what start_sync enqueues. An empty filter enqueues the whole collection.
type SyncFilter struct {
	ExternalID  string   `json:"external_id,omitempty"`
	Email       string   `json:"email,omitempty"`
	SelectedIDs []string `json:"selected_ids,omitempty"`
}

// IsEmpty returns true if no filter criteria is set
func (f SyncFilter) IsEmpty() bool {
	return f.ExternalID == "" && f.Email == "" && len(f.SelectedIDs) == 0
}

// ExplicitIDs returns the external ids named directly by the filter
func (f SyncFilter) ExplicitIDs() []string {
	if f.ExternalID == "" {
		return f.SelectedIDs
	}
	ids := make([]string, 0, len(f.SelectedIDs)+1)
	ids = append(ids, f.ExternalID)
	for _, id := range f.SelectedIDs {
		if id != f.ExternalID {
			ids = append(ids, id)
		}
	}
	return ids
}
