package submission

import (
	"fmt"

	"tipline/internal/services"
)

var (
	ErrContextNotFound          = fmt.Errorf("%w: context not found", services.ErrNotFound)
	ErrReceiverNotFound         = fmt.Errorf("%w: receiver not found", services.ErrNotFound)
	ErrFileNotFound             = fmt.Errorf("%w: file not found", services.ErrNotFound)
	ErrTipNotFound              = fmt.Errorf("%w: submission not found", services.ErrNotFound)
	ErrInvalidReceiverSelection = fmt.Errorf("%w: invalid receiver selection", services.ErrValidation)
	ErrMissingRequiredField     = fmt.Errorf("%w: missing required field", services.ErrValidation)
	ErrUnexpectedField          = fmt.Errorf("%w: unexpected field", services.ErrValidation)
	ErrInvalidReceipt           = fmt.Errorf("%w: invalid receipt", services.ErrValidation)
	ErrSubmissionConcluded      = fmt.Errorf("%w: submission already concluded", services.ErrStateConflict)
	ErrSubmissionOpen           = fmt.Errorf("%w: submission not finalized", services.ErrStateConflict)
)
