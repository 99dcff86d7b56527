package billing

import "errors"

// Error values surfaced by the orchestrator.
var (
	ErrInvalidParams             = errors.New("invalid request parameters")
	ErrInvalidDepositAmount      = errors.New("invalid deposit amount")
	ErrInvalidOrchestratorConfig = errors.New("invalid orchestrator config")
)
