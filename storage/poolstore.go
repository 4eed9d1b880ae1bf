package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"redeempool/core/types"
	"redeempool/native/redemption"
)

var (
	poolKey          = []byte("redemption/pool")
	commitmentPrefix = []byte("redemption/commitment/")
	accountPrefix    = []byte("accounts/")
)

// PoolStore persists the redemption pool, the commitment ledger and account
// balances. It satisfies the engine's state interface.
type PoolStore struct {
	db Database
}

// NewPoolStore creates a pool store backed by the provided database.
func NewPoolStore(db Database) *PoolStore {
	return &PoolStore{db: db}
}

// RLP cannot encode signed integers or raw big.Int pointers that may be nil,
// so the stored records normalise both.

type storedPool struct {
	Deadline         uint64
	TotalFunding     *big.Int
	TotalCommitments uint64
	WasDrawn         bool
}

type storedCommitment struct {
	Holder      [20]byte
	CommittedAt uint64
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

func commitmentKey(id uint64) []byte {
	key := make([]byte, len(commitmentPrefix)+8)
	copy(key, commitmentPrefix)
	binary.BigEndian.PutUint64(key[len(commitmentPrefix):], id)
	return key
}

func accountKey(addr []byte) []byte {
	return append(append([]byte(nil), accountPrefix...), addr...)
}

// PoolGet loads the pool state, reporting false when none was created yet.
func (s *PoolStore) PoolGet() (*redemption.Pool, bool) {
	raw, err := s.db.Get(poolKey)
	if err != nil {
		return nil, false
	}
	var stored storedPool
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	pool := &redemption.Pool{
		Deadline:         int64(stored.Deadline),
		TotalFunding:     stored.TotalFunding,
		TotalCommitments: stored.TotalCommitments,
		WasDrawn:         stored.WasDrawn,
	}
	if pool.TotalFunding == nil {
		pool.TotalFunding = big.NewInt(0)
	}
	return pool, true
}

// PoolPut persists the pool state.
func (s *PoolStore) PoolPut(pool *redemption.Pool) error {
	if pool == nil {
		return fmt.Errorf("storage: nil pool")
	}
	if pool.Deadline < 0 {
		return fmt.Errorf("storage: negative deadline")
	}
	funding := pool.TotalFunding
	if funding == nil {
		funding = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(&storedPool{
		Deadline:         uint64(pool.Deadline),
		TotalFunding:     funding,
		TotalCommitments: pool.TotalCommitments,
		WasDrawn:         pool.WasDrawn,
	})
	if err != nil {
		return err
	}
	return s.db.Put(poolKey, encoded)
}

// CommitmentGet loads the commitment record for the token, if present.
func (s *PoolStore) CommitmentGet(id uint64) (*redemption.Commitment, bool) {
	raw, err := s.db.Get(commitmentKey(id))
	if err != nil {
		return nil, false
	}
	var stored storedCommitment
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	return &redemption.Commitment{
		TokenID:     id,
		Holder:      stored.Holder,
		CommittedAt: int64(stored.CommittedAt),
	}, true
}

// CommitmentPut persists a commitment record keyed by token id.
func (s *PoolStore) CommitmentPut(rec *redemption.Commitment) error {
	if rec == nil {
		return fmt.Errorf("storage: nil commitment")
	}
	if rec.CommittedAt < 0 {
		return fmt.Errorf("storage: negative commitment timestamp")
	}
	encoded, err := rlp.EncodeToBytes(&storedCommitment{
		Holder:      rec.Holder,
		CommittedAt: uint64(rec.CommittedAt),
	})
	if err != nil {
		return err
	}
	return s.db.Put(commitmentKey(rec.TokenID), encoded)
}

// CommitmentDelete clears the commitment record for the token.
func (s *PoolStore) CommitmentDelete(id uint64) error {
	return s.db.Delete(commitmentKey(id))
}

// GetAccount loads the account for the address, returning a zero-balance
// account when none exists yet.
func (s *PoolStore) GetAccount(addr []byte) (*types.Account, error) {
	raw, err := s.db.Get(accountKey(addr))
	if errors.Is(err, ErrNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	account := &types.Account{Nonce: stored.Nonce, Balance: stored.Balance}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account, nil
}

// PutAccount persists the account for the address.
func (s *PoolStore) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("storage: nil account")
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{Nonce: account.Nonce, Balance: balance})
	if err != nil {
		return err
	}
	return s.db.Put(accountKey(addr), encoded)
}
