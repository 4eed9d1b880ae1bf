package core

import (
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"redeempool/core/events"
	"redeempool/native/redemption"
	"redeempool/observability/metrics"
	"redeempool/storage"
)

// PoolVaultAddress is the module account holding pooled funds and token
// custody. Derived from a fixed label so every deployment agrees on it.
var PoolVaultAddress = addressFromLabel("redeempool/module/vault")

func addressFromLabel(label string) [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256([]byte(label))
	copy(addr[:], hash[12:])
	return addr
}

// Node owns the database, the pool store and the redemption engine, and is
// the single entry point the RPC layer talks to.
type Node struct {
	db      storage.Database
	store   *storage.PoolStore
	engine  *redemption.Engine
	stateMu sync.Mutex
}

// NewNode wires the engine against the database and ensures the pool exists.
// The window (seconds) only applies on first boot; on restart the stored
// deadline wins. Genesis allocations seed account balances once, alongside
// pool creation.
func NewNode(db storage.Database, reg redemption.CustodyRegistry, beneficiary [20]byte, window int64, allocations map[[20]byte]*big.Int) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: nil database")
	}
	store := storage.NewPoolStore(db)
	engine := redemption.NewEngine()
	engine.SetState(store)
	engine.SetRegistry(reg)
	engine.SetVault(PoolVaultAddress)
	engine.SetBeneficiary(beneficiary)
	engine.SetEmitter(newEventLogger())
	if err := engine.Verify(); err != nil {
		return nil, err
	}
	node := &Node{db: db, store: store, engine: engine}
	if _, ok := store.PoolGet(); !ok {
		if _, err := engine.Create(window); err != nil {
			return nil, err
		}
		for addr, amount := range allocations {
			account, err := store.GetAccount(addr[:])
			if err != nil {
				return nil, err
			}
			account.Balance = new(big.Int).Set(amount)
			if err := store.PutAccount(addr[:], account); err != nil {
				return nil, err
			}
		}
	}
	node.publishPoolGauges()
	return node, nil
}

// SetNowFunc overrides the engine clock. Intended for tests.
func (n *Node) SetNowFunc(now func() int64) { n.engine.SetNowFunc(now) }

func (n *Node) publishPoolGauges() {
	pool, err := n.engine.Pool()
	if err != nil {
		return
	}
	funding, _ := new(big.Float).SetInt(pool.TotalFunding).Float64()
	metrics.Redemption().SetPoolGauges(funding, pool.TotalCommitments, pool.WasDrawn)
}

func (n *Node) observe(op string, err error) {
	metrics.Redemption().ObserveOperation(op, err)
	if err == nil {
		n.publishPoolGauges()
	}
}

// RedemptionDeposit accepts pool funding from the sender while the pool is
// open.
func (n *Node) RedemptionDeposit(from [20]byte, amount *big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.Receive(from, amount)
	n.observe("deposit", err)
	return err
}

// RedemptionCommit stakes the caller's tokens into pool custody.
func (n *Node) RedemptionCommit(caller [20]byte, ids []uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.Commit(caller, ids)
	n.observe("commit", err)
	return err
}

// RedemptionRevoke returns staked tokens to the caller.
func (n *Node) RedemptionRevoke(caller [20]byte, ids []uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.Revoke(caller, ids)
	n.observe("revoke", err)
	return err
}

// RedemptionRedeem pays out the caller's pro-rata share for the batch.
func (n *Node) RedemptionRedeem(caller [20]byte, ids []uint64) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	amount, err := n.engine.Redeem(caller, ids)
	n.observe("redeem", err)
	return amount, err
}

// RedemptionDraw sweeps leftover funding to the beneficiary.
func (n *Node) RedemptionDraw() (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	leftover, err := n.engine.Draw()
	n.observe("draw", err)
	return leftover, err
}

// RedemptionReclaim sweeps pool-held tokens to the beneficiary.
func (n *Node) RedemptionReclaim(ids []uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.Reclaim(ids)
	n.observe("reclaim", err)
	return err
}

// RedemptionPool returns the current pool state.
func (n *Node) RedemptionPool() (*redemption.Pool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Pool()
}

// RedemptionCommitter reports who committed the token, if anyone.
func (n *Node) RedemptionCommitter(id uint64) ([20]byte, bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Committer(id)
}

// Balance reports the fungible balance of an address.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	account, err := n.store.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

var _ events.Emitter = (*eventLogger)(nil)
