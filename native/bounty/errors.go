package bounty

import "errors"

var (
	ErrNotRegisteredIssuer     = errors.New("bounty: caller is not a registered issuer")
	ErrIssuerAlreadyRegistered = errors.New("bounty: issuer already registered")
	ErrRewardMismatch          = errors.New("bounty: reward must be equal to the sent value")
	ErrBountyNotFound          = errors.New("bounty: bounty does not exist")
	ErrSubmitterCannotRegister = errors.New("bounty: submitter cannot register to own bounty")
	ErrAlreadyApproved         = errors.New("bounty: bounty is already approved")
	ErrNotSubmitter            = errors.New("bounty: caller is not the bounty submitter")
	ErrNoReportSubmitted       = errors.New("bounty: hunter has not submitted a report")
	ErrIndexOutOfBounds        = errors.New("bounty: index out of bounds")
	ErrHunterAlreadyRegistered = errors.New("bounty: hunter already registered")
	ErrInsufficientFunds       = errors.New("bounty: insufficient balance")
	ErrEmptyDigest             = errors.New("bounty: report digest must not be empty")
	ErrInvalidPrincipal        = errors.New("bounty: invalid principal")
	// ErrInvariantViolation signals escrow bookkeeping that cannot honour a
	// transfer. It is unreachable while fund conservation holds.
	ErrInvariantViolation = errors.New("bounty: escrow invariant violated")

	errNilState = errors.New("bounty engine: state not configured")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotRegisteredIssuer, "NotRegisteredIssuer"},
	{ErrIssuerAlreadyRegistered, "IssuerAlreadyRegistered"},
	{ErrRewardMismatch, "RewardMismatch"},
	{ErrBountyNotFound, "BountyNotFound"},
	{ErrSubmitterCannotRegister, "SubmitterCannotRegister"},
	{ErrAlreadyApproved, "AlreadyApproved"},
	{ErrNotSubmitter, "NotSubmitter"},
	{ErrNoReportSubmitted, "NoReportSubmitted"},
	{ErrIndexOutOfBounds, "IndexOutOfBounds"},
	{ErrHunterAlreadyRegistered, "HunterAlreadyRegistered"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrEmptyDigest, "EmptyDigest"},
	{ErrInvalidPrincipal, "InvalidPrincipal"},
	{ErrInvariantViolation, "InvariantViolation"},
}

// Code maps err to the stable error kind exposed to API consumers. Errors that
// do not originate from the engine map to "Internal".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "Internal"
}
