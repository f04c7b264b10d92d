package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Source API errors
	ErrAPIRequest       = fmt.Errorf("API request failed")
	ErrNotFound         = fmt.Errorf("resource not found")
	ErrRateLimited      = fmt.Errorf("rate limited")
	ErrRetriesExhausted = fmt.Errorf("retries exhausted")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// Migration engine errors
	ErrJobNotFound  = fmt.Errorf("migration job not found")
	ErrJobTerminal  = fmt.Errorf("migration job already finished")
	ErrJobCancelled = fmt.Errorf("migration job cancelled")
	ErrPhaseFatal   = fmt.Errorf("phase cannot continue")
	ErrDeadline     = fmt.Errorf("deadline reached")
	ErrFileTooLarge = fmt.Errorf("file exceeds storage limit")
	ErrNoBlobStore  = fmt.Errorf("no blob store configured")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
