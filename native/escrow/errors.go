package escrow

import (
	"errors"

	"escrowledger/native/access"
	"escrowledger/native/bank"
)

var (
	ErrInvalidAmount            = errors.New("escrow: InvalidAmount")
	ErrInvalidAddress           = errors.New("escrow: InvalidAddress")
	ErrInvalidStatus            = errors.New("escrow: InvalidStatus")
	ErrNotAuthorized            = access.ErrNotAuthorized
	ErrSelfHiring               = errors.New("escrow: SelfHiring")
	ErrAlreadyApplied           = errors.New("escrow: AlreadyApplied")
	ErrMilestoneAlreadyReleased = errors.New("escrow: MilestoneAlreadyReleased")
	ErrInvalidRating            = errors.New("escrow: InvalidRating")
	ErrDeadlineNotPassed        = errors.New("escrow: DeadlineNotPassed")
	ErrEnforcedPause            = access.ErrEnforcedPause
	ErrLastAdministrator        = access.ErrLastAdministrator
	ErrInsufficientFunds        = bank.ErrInsufficientFunds

	ErrJobNotFound        = errors.New("escrow: job not found")
	ErrTooManyApplicants  = errors.New("escrow: TooManyApplicants")
	ErrTooManyEvidence    = errors.New("escrow: TooManyEvidence")
	ErrInvalidDeadline    = errors.New("escrow: InvalidDeadline")
	ErrInvalidReference   = errors.New("escrow: InvalidReference")
	ErrDisputeNotFound    = errors.New("escrow: DisputeNotFound")
	ErrAlreadyInitialized = errors.New("escrow: AlreadyInitialized")
	ErrNotInitialized     = errors.New("escrow: not initialized")

	errNilState  = errors.New("escrow engine: state not configured")
	errInsolvent = errors.New("escrow engine: custody accounting underflow")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidAddress, "InvalidAddress"},
	{ErrInvalidStatus, "InvalidStatus"},
	{ErrNotAuthorized, "NotAuthorized"},
	{ErrSelfHiring, "SelfHiring"},
	{ErrAlreadyApplied, "AlreadyApplied"},
	{ErrMilestoneAlreadyReleased, "MilestoneAlreadyReleased"},
	{ErrInvalidRating, "InvalidRating"},
	{ErrDeadlineNotPassed, "DeadlineNotPassed"},
	{ErrEnforcedPause, "EnforcedPause"},
	{ErrLastAdministrator, "LastAdministrator"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrJobNotFound, "JobNotFound"},
	{ErrTooManyApplicants, "TooManyApplicants"},
	{ErrTooManyEvidence, "TooManyEvidence"},
	{ErrInvalidDeadline, "InvalidDeadline"},
	{ErrInvalidReference, "InvalidReference"},
	{ErrDisputeNotFound, "DisputeNotFound"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrNotInitialized, "NotInitialized"},
}

// ErrorCode maps an engine error to its stable code string. Nil maps to "ok"
// and unrecognised errors to "Internal".
func ErrorCode(err error) string {
	if err == nil {
		return "ok"
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "Internal"
}
