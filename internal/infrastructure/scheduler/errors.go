package scheduler

import "errors"

var (
	// ErrWorkerNotRunning is returned when triggering a stopped worker
	ErrWorkerNotRunning = errors.New("sync worker is not running")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrInvalidCronSpec is returned when a scheduled entry cannot be parsed
	ErrInvalidCronSpec = errors.New("invalid cron spec")
)
