package redemption

import "errors"

var (
	// ErrInvalidDuration rejects pool creation with a non-positive window.
	ErrInvalidDuration = errors.New("redemption: duration must be positive")
	// ErrAfterDeadline rejects open-phase operations once the deadline passed.
	ErrAfterDeadline = errors.New("redemption: deadline passed")
	// ErrBeforeDeadline rejects closed-phase operations while the pool is open.
	ErrBeforeDeadline = errors.New("redemption: deadline not reached")
	// ErrUnsortedTokenIDs rejects batches that are not strictly increasing.
	ErrUnsortedTokenIDs = errors.New("redemption: token ids must be strictly increasing")
	// ErrIneligibleToken rejects commits of reserved, out-of-range or
	// deactivated tokens.
	ErrIneligibleToken = errors.New("redemption: token not eligible")
	// ErrUncommittedToken rejects revokes and redeems of tokens the caller
	// has not committed.
	ErrUncommittedToken = errors.New("redemption: token not committed by caller")
	// ErrNoCommitments rejects redemption when the payout denominator is zero.
	ErrNoCommitments = errors.New("redemption: no commitments outstanding")
	// ErrTransferFailed surfaces custody or fund transfer failures; the
	// enclosing operation aborts with no state change.
	ErrTransferFailed = errors.New("redemption: transfer failed")
	// ErrReentrantCall rejects calls arriving while another mutating call is
	// still in flight.
	ErrReentrantCall = errors.New("redemption: reentrant call rejected")
	// ErrPoolExists rejects creating a second pool.
	ErrPoolExists = errors.New("redemption: pool already created")
	// ErrPoolNotFound is returned when no pool has been created yet.
	ErrPoolNotFound = errors.New("redemption: pool not found")
)

var (
	errNilState       = errors.New("redemption engine: state not configured")
	errNilRegistry    = errors.New("redemption engine: custody registry not configured")
	errNilBeneficiary = errors.New("redemption engine: beneficiary not configured")
)
