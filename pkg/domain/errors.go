package domain

import "errors"

var (
	ErrUnauthorizedCaller        = errors.New("caller is neither provider nor client")
	ErrInvalidTermLength         = errors.New("term length must be nonzero")
	ErrIncompatibleToken         = errors.New("token granularity too coarse for streaming")
	ErrCureTimeNotMet            = errors.New("termination wait not satisfied")
	ErrRageTerminationNotAllowed = errors.New("rage termination not permitted for reason")
	ErrNoBreachNoticeIssued      = errors.New("no breach notice to cure")
	ErrStreamCancellationFailed  = errors.New("stream custodian refused cancellation")
	ErrDoubleInitialization      = errors.New("agreement instance already initialized")
	ErrSlotAlreadyOccupied       = errors.New("agreement slot already occupied")

	// ErrAgreementTerminated guards the terminal state explicitly instead of
	// relying on the cancelled stream's absence.
	ErrAgreementTerminated = errors.New("agreement already terminated")
)
