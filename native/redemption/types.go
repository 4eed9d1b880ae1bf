package redemption

import "math/big"

// UnitValue is one whole unit in base units (10^18). It caps the payout per
// commitment: no redeemer ever receives more than one unit per token.
var UnitValue = big.NewInt(1_000_000_000_000_000_000)

// ReservedTokenIDs is the size of the low-ID exclusion band. Token identifiers
// below this bound are reserved by the collection and can never be committed.
const ReservedTokenIDs uint64 = 100

// Pool captures the lifetime state of the redemption pool. A single pool is
// created at genesis and mutated for the life of the service.
type Pool struct {
	// Deadline is the unix timestamp separating the commit/revoke phase
	// from the redeem/finalize phase. Immutable after creation.
	Deadline int64
	// TotalFunding is the cumulative value ever received while the pool was
	// open. Monotonically non-decreasing.
	TotalFunding *big.Int
	// TotalCommitments counts currently staked tokens. Incremented by
	// Commit, decremented by Revoke, and deliberately NOT decremented by
	// Redeem: the payout denominator is the cohort frozen at the deadline,
	// which keeps the per-unit rate identical across redemption order.
	TotalCommitments uint64
	// WasDrawn flips once when the leftover sweep runs.
	WasDrawn bool
}

// Clone returns a deep copy of the pool state.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	if p.TotalFunding != nil {
		clone.TotalFunding = new(big.Int).Set(p.TotalFunding)
	} else {
		clone.TotalFunding = big.NewInt(0)
	}
	return &clone
}

// Commitment records a staked token. The presence of a record is the
// authoritative "committed" marker: a record exists if and only if the pool
// holds the token in custody on behalf of a pending claim.
type Commitment struct {
	TokenID     uint64
	Holder      [20]byte
	CommittedAt int64
}

// Clone returns a copy of the commitment record.
func (c *Commitment) Clone() *Commitment {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
