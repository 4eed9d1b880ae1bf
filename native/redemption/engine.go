package redemption

import (
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"redeempool/core/events"
	"redeempool/core/types"
)

type engineState interface {
	PoolGet() (*Pool, bool)
	PoolPut(*Pool) error
	CommitmentGet(id uint64) (*Commitment, bool)
	CommitmentPut(*Commitment) error
	CommitmentDelete(id uint64) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// CustodyRegistry is the external asset-token contract consumed by the
// engine. It moves token ownership and answers eligibility queries; its
// internal bookkeeping is not the engine's concern.
type CustodyRegistry interface {
	// Transfer moves custody of the token between addresses. It fails when
	// `from` does not currently own the token.
	Transfer(from, to [20]byte, id uint64) error
	// Deactivated reports whether the collection has flagged the token as
	// ineligible for staking.
	Deactivated(id uint64) (bool, error)
	// GovernanceCap reports the exclusive upper bound of the governed token
	// id range.
	GovernanceCap() (uint64, error)
}

type redemptionEvent struct {
	evt *types.Event
}

func (e redemptionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e redemptionEvent) Event() *types.Event { return e.evt }

// reentryGuard serializes the mutating entry points across the external calls
// they make. It is deliberately non-blocking: a call arriving while another
// is in flight is a reentrant callback and must be rejected, not queued.
type reentryGuard struct {
	held atomic.Bool
}

func (g *reentryGuard) enter() error {
	if !g.held.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (g *reentryGuard) exit() { g.held.Store(false) }

// Engine wires the commitment/redemption state machine with external state,
// the custody registry and an event emitter.
type Engine struct {
	state       engineState
	registry    CustodyRegistry
	emitter     events.Emitter
	vault       [20]byte
	beneficiary [20]byte
	nowFn       func() int64
	guard       reentryGuard
}

// NewEngine creates a redemption engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the external custody registry.
func (e *Engine) SetRegistry(registry CustodyRegistry) { e.registry = registry }

// SetVault configures the address holding pooled funds and token custody on
// behalf of the engine.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetBeneficiary configures the recipient of leftover funds and reclaimed
// tokens.
func (e *Engine) SetBeneficiary(addr [20]byte) { e.beneficiary = addr }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Verify checks that the injected collaborators are usable: state, registry
// and beneficiary must be configured and the registry must govern a range
// wider than the reserved band. Intended to run once at wiring time.
func (e *Engine) Verify() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if e.beneficiary == ([20]byte{}) {
		return errNilBeneficiary
	}
	cap, err := e.registry.GovernanceCap()
	if err != nil {
		return err
	}
	if cap <= ReservedTokenIDs {
		return fmt.Errorf("redemption engine: governance cap %d within reserved band", cap)
	}
	return nil
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(redemptionEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Create initialises and persists the pool with a deadline of now+duration
// (seconds). Exactly one pool exists for the life of the service.
func (e *Engine) Create(duration int64) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if _, ok := e.state.PoolGet(); ok {
		return nil, ErrPoolExists
	}
	pool := &Pool{
		Deadline:     e.now() + duration,
		TotalFunding: big.NewInt(0),
	}
	if err := e.state.PoolPut(pool); err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// Pool returns the current pool state.
func (e *Engine) Pool() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, ok := e.state.PoolGet()
	if !ok {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

// Committer reports the address that committed the token, if any.
func (e *Engine) Committer(id uint64) ([20]byte, bool, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, false, errNilState
	}
	rec, ok := e.state.CommitmentGet(id)
	if !ok {
		return [20]byte{}, false, nil
	}
	return rec.Holder, true, nil
}

// The phase is recomputed from the clock on every call, never cached.

func (e *Engine) requireOpen(pool *Pool) error {
	if e.now() >= pool.Deadline {
		return ErrAfterDeadline
	}
	return nil
}

func (e *Engine) requireClosed(pool *Pool) error {
	if e.now() < pool.Deadline {
		return ErrBeforeDeadline
	}
	return nil
}

// checkAscending enforces strictly increasing ids, which simultaneously
// rules out duplicates in a single O(n) pass.
func checkAscending(ids []uint64) error {
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			return ErrUnsortedTokenIDs
		}
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// transferValue moves pooled value between accounts. Any failure, including
// an insufficient balance, surfaces as ErrTransferFailed so the enclosing
// operation can abort atomically.
func (e *Engine) transferValue(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", ErrTransferFailed)
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: insufficient balance", ErrTransferFailed)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.PutAccount(to[:], toAcc); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// Receive accepts pooled funding from the sender while the pool is open and
// adds the amount to the funding total.
func (e *Engine) Receive(from [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	pool, err := e.Pool()
	if err != nil {
		return err
	}
	if err := e.requireOpen(pool); err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("redemption: amount must be positive")
	}
	if err := e.transferValue(from, e.vault, amt); err != nil {
		return err
	}
	pool.TotalFunding = new(big.Int).Add(pool.TotalFunding, amt)
	if err := e.state.PoolPut(pool); err != nil {
		return err
	}
	e.emit(NewFundedEvent(from, amt, pool))
	return nil
}

// eligible applies the commit eligibility predicate: outside the reserved
// low-id band, inside the governed range, and not deactivated.
func (e *Engine) eligible(id uint64) error {
	if id < ReservedTokenIDs {
		return ErrIneligibleToken
	}
	cap, err := e.registry.GovernanceCap()
	if err != nil {
		return err
	}
	if id >= cap {
		return ErrIneligibleToken
	}
	deactivated, err := e.registry.Deactivated(id)
	if err != nil {
		return err
	}
	if deactivated {
		return ErrIneligibleToken
	}
	return nil
}

// Commit stakes the tokens into pool custody. The whole batch succeeds or
// fails as one: validation runs before any custody move, and a custody
// failure mid-batch unwinds the moves already made.
func (e *Engine) Commit(caller [20]byte, ids []uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	pool, err := e.Pool()
	if err != nil {
		return err
	}
	if err := e.requireOpen(pool); err != nil {
		return err
	}
	if err := checkAscending(ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if err := e.eligible(id); err != nil {
			return err
		}
	}
	for i, id := range ids {
		if err := e.registry.Transfer(caller, e.vault, id); err != nil {
			e.unwindCustody(e.vault, caller, ids[:i])
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	now := e.now()
	for _, id := range ids {
		if err := e.state.CommitmentPut(&Commitment{TokenID: id, Holder: caller, CommittedAt: now}); err != nil {
			return err
		}
	}
	pool.TotalCommitments += uint64(len(ids))
	if err := e.state.PoolPut(pool); err != nil {
		return err
	}
	e.emit(NewCommittedEvent(caller, ids, pool))
	return nil
}

// Revoke returns staked tokens to their committer while the pool is open.
// Mirror of Commit: all-or-nothing over the batch.
func (e *Engine) Revoke(caller [20]byte, ids []uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	pool, err := e.Pool()
	if err != nil {
		return err
	}
	if err := e.requireOpen(pool); err != nil {
		return err
	}
	if err := checkAscending(ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		rec, ok := e.state.CommitmentGet(id)
		if !ok || rec.Holder != caller {
			return ErrUncommittedToken
		}
	}
	for i, id := range ids {
		if err := e.registry.Transfer(e.vault, caller, id); err != nil {
			e.unwindCustody(caller, e.vault, ids[:i])
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	for _, id := range ids {
		if err := e.state.CommitmentDelete(id); err != nil {
			return err
		}
	}
	pool.TotalCommitments -= uint64(len(ids))
	if err := e.state.PoolPut(pool); err != nil {
		return err
	}
	e.emit(NewRevokedEvent(caller, ids, pool))
	return nil
}

// payoutAmount computes the batch payout with multiply-before-divide integer
// arithmetic, capped at one unit per token.
func payoutAmount(pool *Pool, n int) *big.Int {
	count := big.NewInt(int64(n))
	amount := new(big.Int).Mul(count, pool.TotalFunding)
	amount.Div(amount, new(big.Int).SetUint64(pool.TotalCommitments))
	capped := new(big.Int).Mul(count, UnitValue)
	if amount.Cmp(capped) > 0 {
		return capped
	}
	return amount
}

// Redeem converts the caller's staked tokens into their pro-rata share of the
// pool. Commitment records are cleared before the payout transfer so double
// redemption is structurally impossible; a failed transfer restores them and
// aborts the call. TotalCommitments stays untouched: the denominator is the
// cohort frozen at the deadline, so every redeemer gets the same per-unit
// rate regardless of order.
func (e *Engine) Redeem(caller [20]byte, ids []uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard.enter(); err != nil {
		return nil, err
	}
	defer e.guard.exit()
	pool, err := e.Pool()
	if err != nil {
		return nil, err
	}
	if err := e.requireClosed(pool); err != nil {
		return nil, err
	}
	if err := checkAscending(ids); err != nil {
		return nil, err
	}
	if pool.TotalCommitments == 0 {
		return nil, ErrNoCommitments
	}
	if len(ids) == 0 {
		return big.NewInt(0), nil
	}
	cleared := make([]*Commitment, 0, len(ids))
	for _, id := range ids {
		rec, ok := e.state.CommitmentGet(id)
		if !ok || rec.Holder != caller {
			return nil, ErrUncommittedToken
		}
		cleared = append(cleared, rec)
	}
	for _, id := range ids {
		if err := e.state.CommitmentDelete(id); err != nil {
			return nil, err
		}
	}
	amount := payoutAmount(pool, len(ids))
	if err := e.transferValue(e.vault, caller, amount); err != nil {
		for _, rec := range cleared {
			_ = e.state.CommitmentPut(rec)
		}
		return nil, err
	}
	e.emit(NewRedeemedEvent(caller, ids, amount, pool))
	return amount, nil
}

// Draw sweeps any funding not consumable by redemptions to the beneficiary.
// One-shot: the second call is a no-op. The drawn flag is set before the
// transfer so a failed sweep cannot be replayed into a double payout.
func (e *Engine) Draw() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.beneficiary == ([20]byte{}) {
		return nil, errNilBeneficiary
	}
	if err := e.guard.enter(); err != nil {
		return nil, err
	}
	defer e.guard.exit()
	pool, err := e.Pool()
	if err != nil {
		return nil, err
	}
	if err := e.requireClosed(pool); err != nil {
		return nil, err
	}
	if pool.WasDrawn {
		return big.NewInt(0), nil
	}
	pool.WasDrawn = true
	if err := e.state.PoolPut(pool); err != nil {
		return nil, err
	}
	leftover := big.NewInt(0)
	if pool.TotalCommitments == 0 {
		// Nothing was staked, so nothing is redeemable: the whole fund
		// is leftover.
		leftover = cloneBigInt(pool.TotalFunding)
	} else {
		rate := new(big.Int).Div(pool.TotalFunding, new(big.Int).SetUint64(pool.TotalCommitments))
		if rate.Cmp(UnitValue) > 0 {
			consumable := new(big.Int).Mul(new(big.Int).SetUint64(pool.TotalCommitments), UnitValue)
			leftover = new(big.Int).Sub(pool.TotalFunding, consumable)
		}
	}
	if leftover.Sign() > 0 {
		if err := e.transferValue(e.vault, e.beneficiary, leftover); err != nil {
			return nil, err
		}
	}
	e.emit(NewDrawnEvent(e.beneficiary, leftover, pool))
	return leftover, nil
}

// Reclaim bulk-transfers pool-held tokens to the beneficiary after the
// deadline. No eligibility or ledger check is applied; a token the pool does
// not actually hold fails the underlying custody transfer and aborts the
// call.
func (e *Engine) Reclaim(ids []uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if e.beneficiary == ([20]byte{}) {
		return errNilBeneficiary
	}
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	pool, err := e.Pool()
	if err != nil {
		return err
	}
	if err := e.requireClosed(pool); err != nil {
		return err
	}
	if err := checkAscending(ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	for i, id := range ids {
		if err := e.registry.Transfer(e.vault, e.beneficiary, id); err != nil {
			e.unwindCustody(e.beneficiary, e.vault, ids[:i])
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	e.emit(NewReclaimedEvent(e.beneficiary, ids, pool))
	return nil
}

// unwindCustody best-effort reverses custody moves after a mid-batch failure.
func (e *Engine) unwindCustody(from, to [20]byte, ids []uint64) {
	for _, id := range ids {
		_ = e.registry.Transfer(from, to, id)
	}
}
