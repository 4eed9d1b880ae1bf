package redemption

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"redeempool/core/types"
)

const (
	EventTypeFunded    = "redemption.funded"
	EventTypeCommitted = "redemption.committed"
	EventTypeRevoked   = "redemption.revoked"
	EventTypeRedeemed  = "redemption.redeemed"
	EventTypeDrawn     = "redemption.drawn"
	EventTypeReclaimed = "redemption.reclaimed"
)

// NewFundedEvent returns the canonical payload emitted when the pool receives
// funding.
func NewFundedEvent(from [20]byte, amount *big.Int, pool *Pool) *types.Event {
	attrs := poolAttributes(pool)
	attrs["from"] = hex.EncodeToString(from[:])
	attrs["amount"] = bigString(amount)
	return &types.Event{Type: EventTypeFunded, Attributes: attrs}
}

// NewCommittedEvent returns the canonical payload for a successful commit
// batch.
func NewCommittedEvent(holder [20]byte, ids []uint64, pool *Pool) *types.Event {
	attrs := poolAttributes(pool)
	attrs["holder"] = hex.EncodeToString(holder[:])
	attrs["tokenIds"] = joinIDs(ids)
	return &types.Event{Type: EventTypeCommitted, Attributes: attrs}
}

// NewRevokedEvent returns the canonical payload for a successful revoke batch.
func NewRevokedEvent(holder [20]byte, ids []uint64, pool *Pool) *types.Event {
	attrs := poolAttributes(pool)
	attrs["holder"] = hex.EncodeToString(holder[:])
	attrs["tokenIds"] = joinIDs(ids)
	return &types.Event{Type: EventTypeRevoked, Attributes: attrs}
}

// NewRedeemedEvent returns the canonical payload for a successful redemption.
func NewRedeemedEvent(holder [20]byte, ids []uint64, amount *big.Int, pool *Pool) *types.Event {
	attrs := poolAttributes(pool)
	attrs["holder"] = hex.EncodeToString(holder[:])
	attrs["tokenIds"] = joinIDs(ids)
	attrs["amount"] = bigString(amount)
	return &types.Event{Type: EventTypeRedeemed, Attributes: attrs}
}

// NewDrawnEvent returns the canonical payload for the one-shot leftover sweep.
func NewDrawnEvent(beneficiary [20]byte, leftover *big.Int, pool *Pool) *types.Event {
	attrs := poolAttributes(pool)
	attrs["beneficiary"] = hex.EncodeToString(beneficiary[:])
	attrs["leftover"] = bigString(leftover)
	return &types.Event{Type: EventTypeDrawn, Attributes: attrs}
}

// NewReclaimedEvent returns the canonical payload for a custody sweep to the
// beneficiary.
func NewReclaimedEvent(beneficiary [20]byte, ids []uint64, pool *Pool) *types.Event {
	attrs := poolAttributes(pool)
	attrs["beneficiary"] = hex.EncodeToString(beneficiary[:])
	attrs["tokenIds"] = joinIDs(ids)
	return &types.Event{Type: EventTypeReclaimed, Attributes: attrs}
}

func poolAttributes(pool *Pool) map[string]string {
	attrs := make(map[string]string)
	if pool == nil {
		return attrs
	}
	attrs["deadline"] = strconv.FormatInt(pool.Deadline, 10)
	attrs["totalFunding"] = bigString(pool.TotalFunding)
	attrs["totalCommitments"] = strconv.FormatUint(pool.TotalCommitments, 10)
	attrs["wasDrawn"] = strconv.FormatBool(pool.WasDrawn)
	return attrs
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func joinIDs(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}
