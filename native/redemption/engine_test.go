package redemption

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"redeempool/core/types"
)

type mockState struct {
	pool          *Pool
	commitments   map[uint64]*Commitment
	accounts      map[[20]byte]*types.Account
	putAccountErr error
}

func newMockState() *mockState {
	return &mockState{
		commitments: make(map[uint64]*Commitment),
		accounts:    make(map[[20]byte]*types.Account),
	}
}

func (m *mockState) PoolGet() (*Pool, bool) {
	if m.pool == nil {
		return nil, false
	}
	return m.pool.Clone(), true
}

func (m *mockState) PoolPut(p *Pool) error {
	if p == nil {
		return fmt.Errorf("nil pool")
	}
	m.pool = p.Clone()
	return nil
}

func (m *mockState) CommitmentGet(id uint64) (*Commitment, bool) {
	rec, ok := m.commitments[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (m *mockState) CommitmentPut(rec *Commitment) error {
	if rec == nil {
		return fmt.Errorf("nil commitment")
	}
	m.commitments[rec.TokenID] = rec.Clone()
	return nil
}

func (m *mockState) CommitmentDelete(id uint64) error {
	delete(m.commitments, id)
	return nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	acc, ok := m.accounts[key]
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr []byte, acc *types.Account) error {
	if m.putAccountErr != nil {
		return m.putAccountErr
	}
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = acc.Clone()
	return nil
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	acc, ok := m.accounts[addr]
	if !ok || acc.Balance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(acc.Balance)
}

type mockRegistry struct {
	owners      map[uint64][20]byte
	deactivated map[uint64]bool
	cap         uint64
	failIDs     map[uint64]error
	onTransfer  func(from, to [20]byte, id uint64) error
}

func newMockRegistry(cap uint64) *mockRegistry {
	return &mockRegistry{
		owners:      make(map[uint64][20]byte),
		deactivated: make(map[uint64]bool),
		cap:         cap,
		failIDs:     make(map[uint64]error),
	}
}

func (r *mockRegistry) Transfer(from, to [20]byte, id uint64) error {
	if err, ok := r.failIDs[id]; ok {
		return err
	}
	if r.onTransfer != nil {
		if err := r.onTransfer(from, to, id); err != nil {
			return err
		}
	}
	owner, ok := r.owners[id]
	if !ok || owner != from {
		return fmt.Errorf("token %d not owned by sender", id)
	}
	r.owners[id] = to
	return nil
}

func (r *mockRegistry) Deactivated(id uint64) (bool, error) {
	return r.deactivated[id], nil
}

func (r *mockRegistry) GovernanceCap() (uint64, error) {
	return r.cap, nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	vaultAddr       = newTestAddress(0xEE)
	beneficiaryAddr = newTestAddress(0xB1)
	holderAddr      = newTestAddress(0x01)
	otherAddr       = newTestAddress(0x02)
)

const testWindow int64 = 3600

// units converts hundredths of a unit into base units so tests can express
// fractional amounts like 542.97 exactly.
func units(hundredths int64) *big.Int {
	amount := new(big.Int).Mul(big.NewInt(hundredths), UnitValue)
	return amount.Div(amount, big.NewInt(100))
}

type testClock struct {
	now int64
}

func (c *testClock) advance(seconds int64) { c.now += seconds }

func newTestEngine(t *testing.T) (*Engine, *mockState, *mockRegistry, *testClock) {
	t.Helper()
	state := newMockState()
	registry := newMockRegistry(10_000)
	clock := &testClock{now: 1_700_000_000}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetRegistry(registry)
	engine.SetVault(vaultAddr)
	engine.SetBeneficiary(beneficiaryAddr)
	engine.SetNowFunc(func() int64 { return clock.now })
	if err := engine.Verify(); err != nil {
		t.Fatalf("verify engine wiring: %v", err)
	}
	if _, err := engine.Create(testWindow); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return engine, state, registry, clock
}

func giveTokens(registry *mockRegistry, owner [20]byte, ids ...uint64) {
	for _, id := range ids {
		registry.owners[id] = owner
	}
}

func fund(t *testing.T, engine *Engine, state *mockState, from [20]byte, amount *big.Int) {
	t.Helper()
	state.accounts[from] = &types.Account{Balance: new(big.Int).Set(amount)}
	if err := engine.Receive(from, amount); err != nil {
		t.Fatalf("receive funding: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	state := newMockState()
	engine := NewEngine()
	engine.SetState(state)
	if _, err := engine.Create(0); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if _, err := engine.Create(-5); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if _, err := engine.Create(testWindow); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	if _, err := engine.Create(testWindow); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("expected ErrPoolExists, got %v", err)
	}
}

func TestCommitRevokeRoundTrip(t *testing.T) {
	engine, state, registry, _ := newTestEngine(t)
	ids := []uint64{100, 101, 205}
	giveTokens(registry, holderAddr, ids...)

	if err := engine.Commit(holderAddr, ids); err != nil {
		t.Fatalf("commit: %v", err)
	}
	pool, err := engine.Pool()
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if pool.TotalCommitments != 3 {
		t.Fatalf("expected 3 commitments, got %d", pool.TotalCommitments)
	}
	for _, id := range ids {
		holder, ok, err := engine.Committer(id)
		if err != nil || !ok || holder != holderAddr {
			t.Fatalf("token %d: committer = %x ok=%v err=%v", id, holder, ok, err)
		}
		if registry.owners[id] != vaultAddr {
			t.Fatalf("token %d custody not moved to vault", id)
		}
	}

	if err := engine.Revoke(holderAddr, ids); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	pool, _ = engine.Pool()
	if pool.TotalCommitments != 0 {
		t.Fatalf("expected 0 commitments after revoke, got %d", pool.TotalCommitments)
	}
	for _, id := range ids {
		if _, ok, _ := engine.Committer(id); ok {
			t.Fatalf("token %d still recorded after revoke", id)
		}
		if registry.owners[id] != holderAddr {
			t.Fatalf("token %d custody not returned to holder", id)
		}
	}
	if len(state.commitments) != 0 {
		t.Fatalf("ledger not empty after revoke")
	}
}

func TestEmptyBatchesAreNoOps(t *testing.T) {
	engine, _, registry, clock := newTestEngine(t)
	giveTokens(registry, holderAddr, 100)
	if err := engine.Commit(holderAddr, nil); err != nil {
		t.Fatalf("empty commit: %v", err)
	}
	if err := engine.Revoke(holderAddr, nil); err != nil {
		t.Fatalf("empty revoke: %v", err)
	}
	if err := engine.Commit(holderAddr, []uint64{100}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	clock.advance(testWindow)
	amount, err := engine.Redeem(holderAddr, nil)
	if err != nil {
		t.Fatalf("empty redeem: %v", err)
	}
	if amount.Sign() != 0 {
		t.Fatalf("empty redeem paid %s", amount)
	}
	if err := engine.Reclaim(nil); err != nil {
		t.Fatalf("empty reclaim: %v", err)
	}
}

func TestUnsortedBatchesRejected(t *testing.T) {
	engine, state, registry, clock := newTestEngine(t)
	giveTokens(registry, holderAddr, 100, 101, 102)
	if err := engine.Commit(holderAddr, []uint64{100}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	before, _ := engine.Pool()

	bad := [][]uint64{
		{102, 101},
		{101, 101},
		{100, 102, 101},
	}
	for _, ids := range bad {
		if err := engine.Commit(holderAddr, ids); !errors.Is(err, ErrUnsortedTokenIDs) {
			t.Fatalf("commit %v: expected ErrUnsortedTokenIDs, got %v", ids, err)
		}
		if err := engine.Revoke(holderAddr, ids); !errors.Is(err, ErrUnsortedTokenIDs) {
			t.Fatalf("revoke %v: expected ErrUnsortedTokenIDs, got %v", ids, err)
		}
	}
	clock.advance(testWindow)
	for _, ids := range bad {
		if _, err := engine.Redeem(holderAddr, ids); !errors.Is(err, ErrUnsortedTokenIDs) {
			t.Fatalf("redeem %v: expected ErrUnsortedTokenIDs, got %v", ids, err)
		}
		if err := engine.Reclaim(ids); !errors.Is(err, ErrUnsortedTokenIDs) {
			t.Fatalf("reclaim %v: expected ErrUnsortedTokenIDs, got %v", ids, err)
		}
	}
	after, _ := engine.Pool()
	if after.TotalCommitments != before.TotalCommitments || after.TotalFunding.Cmp(before.TotalFunding) != 0 {
		t.Fatalf("state changed by rejected batches")
	}
	if len(state.commitments) != 1 {
		t.Fatalf("ledger changed by rejected batches")
	}
}

func TestCommitEligibility(t *testing.T) {
	engine, _, registry, _ := newTestEngine(t)
	giveTokens(registry, holderAddr, 5, 9_999, 10_000, 300)
	registry.deactivated[300] = true

	cases := []struct {
		name string
		id   uint64
	}{
		{"reserved low id", 5},
		{"above governance cap", 10_000},
		{"deactivated", 300},
	}
	for _, tc := range cases {
		if err := engine.Commit(holderAddr, []uint64{tc.id}); !errors.Is(err, ErrIneligibleToken) {
			t.Fatalf("%s: expected ErrIneligibleToken, got %v", tc.name, err)
		}
	}
	if err := engine.Commit(holderAddr, []uint64{9_999}); err != nil {
		t.Fatalf("boundary id should be eligible: %v", err)
	}
}

func TestCommitRequiresOwnership(t *testing.T) {
	engine, _, registry, _ := newTestEngine(t)
	giveTokens(registry, otherAddr, 100)
	err := engine.Commit(holderAddr, []uint64{100})
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	pool, _ := engine.Pool()
	if pool.TotalCommitments != 0 {
		t.Fatalf("failed commit changed commitment count")
	}
}

func TestCommitMidBatchFailureUnwinds(t *testing.T) {
	engine, state, registry, _ := newTestEngine(t)
	giveTokens(registry, holderAddr, 100, 101, 102)
	registry.failIDs[102] = fmt.Errorf("approval missing")

	err := engine.Commit(holderAddr, []uint64{100, 101, 102})
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	for _, id := range []uint64{100, 101, 102} {
		if registry.owners[id] != holderAddr {
			t.Fatalf("token %d custody not unwound", id)
		}
	}
	pool, _ := engine.Pool()
	if pool.TotalCommitments != 0 || len(state.commitments) != 0 {
		t.Fatalf("failed batch left ledger state behind")
	}
}

func TestRevokeRequiresCallerCommitment(t *testing.T) {
	engine, _, registry, _ := newTestEngine(t)
	giveTokens(registry, holderAddr, 100)
	giveTokens(registry, otherAddr, 101)
	if err := engine.Commit(holderAddr, []uint64{100}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := engine.Revoke(otherAddr, []uint64{100}); !errors.Is(err, ErrUncommittedToken) {
		t.Fatalf("expected ErrUncommittedToken for foreign revoke, got %v", err)
	}
	if err := engine.Revoke(holderAddr, []uint64{101}); !errors.Is(err, ErrUncommittedToken) {
		t.Fatalf("expected ErrUncommittedToken for never-committed token, got %v", err)
	}
}

func TestDeadlineGate(t *testing.T) {
	engine, state, registry, clock := newTestEngine(t)
	giveTokens(registry, holderAddr, 100, 101)
	if err := engine.Commit(holderAddr, []uint64{100}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := engine.Redeem(holderAddr, []uint64{100}); !errors.Is(err, ErrBeforeDeadline) {
		t.Fatalf("expected ErrBeforeDeadline for early redeem, got %v", err)
	}
	if _, err := engine.Draw(); !errors.Is(err, ErrBeforeDeadline) {
		t.Fatalf("expected ErrBeforeDeadline for early draw, got %v", err)
	}
	if err := engine.Reclaim([]uint64{100}); !errors.Is(err, ErrBeforeDeadline) {
		t.Fatalf("expected ErrBeforeDeadline for early reclaim, got %v", err)
	}

	clock.advance(testWindow)
	if err := engine.Commit(holderAddr, []uint64{101}); !errors.Is(err, ErrAfterDeadline) {
		t.Fatalf("expected ErrAfterDeadline for late commit, got %v", err)
	}
	if err := engine.Revoke(holderAddr, []uint64{100}); !errors.Is(err, ErrAfterDeadline) {
		t.Fatalf("expected ErrAfterDeadline for late revoke, got %v", err)
	}
	state.accounts[otherAddr] = &types.Account{Balance: units(100)}
	if err := engine.Receive(otherAddr, units(100)); !errors.Is(err, ErrAfterDeadline) {
		t.Fatalf("expected ErrAfterDeadline for late funding, got %v", err)
	}
}

func TestRedeemCappedRateAndDrawLeftover(t *testing.T) {
	engine, state, registry, clock := newTestEngine(t)
	ids := []uint64{100, 101, 102, 103, 104, 105, 106, 107}
	giveTokens(registry, holderAddr, ids...)
	fund(t, engine, state, otherAddr, units(1000)) // 10 units
	if err := engine.Commit(holderAddr, ids); err != nil {
		t.Fatalf("commit: %v", err)
	}
	clock.advance(testWindow)

	// 10 units across 8 commitments: rate 1.25, capped at one unit each.
	for _, id := range ids {
		amount, err := engine.Redeem(holderAddr, []uint64{id})
		if err != nil {
			t.Fatalf("redeem %d: %v", id, err)
		}
		if amount.Cmp(UnitValue) != 0 {
			t.Fatalf("redeem %d paid %s, want one unit", id, amount)
		}
	}
	if state.balance(holderAddr).Cmp(units(800)) != 0 {
		t.Fatalf("holder received %s, want 8 units", state.balance(holderAddr))
	}

	leftover, err := engine.Draw()
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if leftover.Cmp(units(200)) != 0 {
		t.Fatalf("leftover = %s, want 2 units", leftover)
	}
	if state.balance(beneficiaryAddr).Cmp(units(200)) != 0 {
		t.Fatalf("beneficiary balance = %s, want 2 units", state.balance(beneficiaryAddr))
	}

	// Second draw is a no-op.
	again, err := engine.Draw()
	if err != nil {
		t.Fatalf("second draw: %v", err)
	}
	if again.Sign() != 0 {
		t.Fatalf("second draw paid %s", again)
	}
	if state.balance(beneficiaryAddr).Cmp(units(200)) != 0 {
		t.Fatalf("second draw moved funds")
	}
}

func TestRedeemFractionalRate(t *testing.T) {
	engine, state, registry, clock := newTestEngine(t)
	const commitments = 543
	ids := make([]uint64, commitments)
	for i := range ids {
		ids[i] = uint64(100 + i)
	}
	giveTokens(registry, holderAddr, ids...)
	funding := units(54297) // 542.97 units
	fund(t, engine, state, otherAddr, funding)
	if err := engine.Commit(holderAddr, ids); err != nil {
		t.Fatalf("commit: %v", err)
	}
	clock.advance(testWindow)

	perToken := new(big.Int).Div(funding, big.NewInt(commitments))
	paid := big.NewInt(0)
	for _, id := range ids {
		amount, err := engine.Redeem(holderAddr, []uint64{id})
		if err != nil {
			t.Fatalf("redeem %d: %v", id, err)
		}
		if amount.Cmp(perToken) != 0 {
			t.Fatalf("redeem %d paid %s, want %s", id, amount, perToken)
		}
		paid.Add(paid, amount)
	}
	// Conservation: total paid never exceeds total funding.
	if paid.Cmp(funding) > 0 {
		t.Fatalf("paid %s exceeds funding %s", paid, funding)
	}
	// Rate below one unit: nothing is left over for the beneficiary.
	leftover, err := engine.Draw()
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if leftover.Sign() != 0 {
		t.Fatalf("draw swept %s, want nothing", leftover)
	}
}

func TestRedeemBatchMultipliesBeforeDividing(t *testing.T) {
	engine, state, registry, clock := newTestEngine(t)
	ids := []uint64{100, 101, 102}
	giveTokens(registry, holderAddr, ids...)
	fund(t, engine, state, otherAddr, units(100)) // 1 unit over 3 commitments
	if err := engine.Commit(holderAddr, ids); err != nil {
		t.Fatalf("commit: %v", err)
	}
	clock.advance(testWindow)

	amount, err := engine.Redeem(holderAddr, ids)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	// Multiply before divide: 3*F/3, not 3*(F/3).
	want := new(big.Int).Mul(big.NewInt(3), units(100))
	want.Div(want, big.NewInt(3))
	if amount.Cmp(want) != 0 {
		t.Fatalf("batch redeem paid %s, want %s", amount, want)
	}
}

func TestRedeemRequiresCommitmentByCaller(t *testing.T) {
	engine, state, registry, clock := newTestEngine(t)
	giveTokens(registry, holderAddr, 100)
	fund(t, engine, state, otherAddr, units(100))
	if err := engine.Commit(holderAddr, []uint64{100}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	clock.advance(testWindow)

	if _, err := engine.Redeem(otherAddr, []uint64{100}); !errors.Is(err, ErrUncommittedToken) {
		t.Fatalf("expected ErrUncommittedToken, got %v", err)
	}
	if _, err := engine.Redeem(holderAddr, []uint64{100}); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	// Record cleared on redemption: a second attempt finds nothing.
	if _, err := engine.Redeem(holderAddr, []uint64{100}); !errors.Is(err, ErrUncommittedToken) {
		t.Fatalf("expected ErrUncommittedToken on double redeem, got %v", err)
	}
	pool, _ := engine.Pool()
	if pool.TotalCommitments != 1 {
		t.Fatalf("redeem changed the frozen denominator: %d", pool.TotalCommitments)
	}
}

func TestRedeemWithoutCommitmentsFailsDeterministically(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)
	clock.advance(testWindow)
	if _, err := engine.Redeem(holderAddr, nil); !errors.Is(err, ErrNoCommitments) {
		t.Fatalf("expected ErrNoCommitments, got %v", err)
	}
	if _, err := engine.Redeem(holderAddr, []uint64{100}); !errors.Is(err, ErrNoCommitments) {
		t.Fatalf("expected ErrNoCommitments, got %v", err)
	}
}

func TestRedeemTransferFailureRollsBack(t *testing.T) {
	engine, state, registry, clock := newTestEngine(t)
	giveTokens(registry, holderAddr, 100, 101)
	fund(t, engine, state, otherAddr, units(100))
	if err := engine.Commit(holderAddr, []uint64{100, 101}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	clock.advance(testWindow)

	state.putAccountErr = fmt.Errorf("disk full")
	if _, err := engine.Redeem(holderAddr, []uint64{100, 101}); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	state.putAccountErr = nil

	// Cleared records were restored as part of the same failure.
	for _, id := range []uint64{100, 101} {
		holder, ok, _ := engine.Committer(id)
		if !ok || holder != holderAddr {
			t.Fatalf("token %d record not restored after failed payout", id)
		}
	}
	if _, err := engine.Redeem(holderAddr, []uint64{100, 101}); err != nil {
		t.Fatalf("redeem after recovery: %v", err)
	}
}

func TestRecommitAfterRevokeRedeemsIdentically(t *testing.T) {
	engine, state, registry, clock := newTestEngine(t)
	ids := []uint64{100, 101}
	giveTokens(registry, holderAddr, ids...)
	fund(t, engine, state, otherAddr, units(150))

	if err := engine.Commit(holderAddr, ids); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := engine.Revoke(holderAddr, ids); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := engine.Commit(holderAddr, ids); err != nil {
		t.Fatalf("re-commit: %v", err)
	}
	clock.advance(testWindow)

	amount, err := engine.Redeem(holderAddr, ids)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(2), units(150))
	want.Div(want, big.NewInt(2))
	if amount.Cmp(want) != 0 {
		t.Fatalf("recommitted redeem paid %s, want %s", amount, want)
	}
}

func TestDrawWithoutCommitmentsSweepsEverything(t *testing.T) {
	engine, state, _, clock := newTestEngine(t)
	fund(t, engine, state, otherAddr, units(500))
	clock.advance(testWindow)

	leftover, err := engine.Draw()
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if leftover.Cmp(units(500)) != 0 {
		t.Fatalf("leftover = %s, want the whole fund", leftover)
	}
	if state.balance(beneficiaryAddr).Cmp(units(500)) != 0 {
		t.Fatalf("beneficiary did not receive the sweep")
	}
}

func TestDrawFailureDoesNotRearm(t *testing.T) {
	engine, state, registry, clock := newTestEngine(t)
	ids := []uint64{100, 101}
	giveTokens(registry, holderAddr, ids...)
	fund(t, engine, state, otherAddr, units(400)) // 4 units over 2 commitments
	if err := engine.Commit(holderAddr, ids); err != nil {
		t.Fatalf("commit: %v", err)
	}
	clock.advance(testWindow)

	state.putAccountErr = fmt.Errorf("disk full")
	if _, err := engine.Draw(); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	state.putAccountErr = nil

	// The drawn flag was set before the transfer: no retry can double-sweep.
	pool, _ := engine.Pool()
	if !pool.WasDrawn {
		t.Fatalf("drawn flag not set by failed sweep")
	}
	leftover, err := engine.Draw()
	if err != nil {
		t.Fatalf("second draw: %v", err)
	}
	if leftover.Sign() != 0 {
		t.Fatalf("second draw paid %s", leftover)
	}
}

func TestReclaimSweepsCustody(t *testing.T) {
	engine, _, registry, clock := newTestEngine(t)
	giveTokens(registry, holderAddr, 100, 101)
	registry.owners[50] = vaultAddr // below the reserved band, still sweepable
	if err := engine.Commit(holderAddr, []uint64{100, 101}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	clock.advance(testWindow)

	if err := engine.Reclaim([]uint64{50, 100, 101}); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	for _, id := range []uint64{50, 100, 101} {
		if registry.owners[id] != beneficiaryAddr {
			t.Fatalf("token %d not swept to beneficiary", id)
		}
	}
}

func TestReclaimFailsForUnheldTokens(t *testing.T) {
	engine, _, registry, clock := newTestEngine(t)
	giveTokens(registry, holderAddr, 100, 101)
	if err := engine.Commit(holderAddr, []uint64{100}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	clock.advance(testWindow)

	// 101 was never committed, so the vault does not own it.
	err := engine.Reclaim([]uint64{100, 101})
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	// The move of 100 was unwound with the rest of the batch.
	if registry.owners[100] != vaultAddr {
		t.Fatalf("token 100 custody not restored after failed sweep")
	}
}

func TestReentrantCallbackRejected(t *testing.T) {
	engine, _, registry, _ := newTestEngine(t)
	giveTokens(registry, holderAddr, 100)

	var inner error
	registry.onTransfer = func(from, to [20]byte, id uint64) error {
		// A malicious collection calling back into the engine mid-transfer.
		inner = engine.Revoke(holderAddr, []uint64{100})
		return inner
	}
	err := engine.Commit(holderAddr, []uint64{100})
	if !errors.Is(inner, ErrReentrantCall) {
		t.Fatalf("reentrant call not rejected: %v", inner)
	}
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("outer commit should abort, got %v", err)
	}
	pool, _ := engine.Pool()
	if pool.TotalCommitments != 0 {
		t.Fatalf("reentrant attempt left state behind")
	}

	// The guard releases on every exit path: a fresh call succeeds.
	registry.onTransfer = nil
	if err := engine.Commit(holderAddr, []uint64{100}); err != nil {
		t.Fatalf("commit after reentrant attempt: %v", err)
	}
}

func TestReceiveAccumulatesFunding(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	state.accounts[otherAddr] = &types.Account{Balance: units(1000)}
	if err := engine.Receive(otherAddr, units(300)); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := engine.Receive(otherAddr, units(200)); err != nil {
		t.Fatalf("receive: %v", err)
	}
	pool, _ := engine.Pool()
	if pool.TotalFunding.Cmp(units(500)) != 0 {
		t.Fatalf("totalFunding = %s, want 5 units", pool.TotalFunding)
	}
	if state.balance(vaultAddr).Cmp(units(500)) != 0 {
		t.Fatalf("vault balance = %s, want 5 units", state.balance(vaultAddr))
	}
	if err := engine.Receive(otherAddr, units(600)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed for underfunded sender, got %v", err)
	}
}
