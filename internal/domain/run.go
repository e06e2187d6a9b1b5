package domain

import "time"

// RunStats holds counters about a single job run.
type RunStats struct {
	RunID         string
	JobID         int64
	Sources       int
	SourceErrors  int
	Fetched       int
	Matched       int
	Duplicates    int
	Scored        int
	Degraded      int
	Inserted      int
	Skipped       int
	Notified      int
	NotifyErrors  int
	Published     int
	PublishErrors int
	Duration      time.Duration
}
