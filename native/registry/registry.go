package registry

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"redeempool/storage"
)

var (
	// ErrTokenNotFound is returned for ids that were never registered.
	ErrTokenNotFound = errors.New("registry: token not found")
	// ErrNotOwner rejects transfers from an address that does not hold the
	// token.
	ErrNotOwner = errors.New("registry: sender does not own token")
	// ErrTokenExists rejects registering an id twice.
	ErrTokenExists = errors.New("registry: token already registered")
	// ErrOutOfRange rejects ids at or above the governance cap.
	ErrOutOfRange = errors.New("registry: token id outside governed range")
)

var tokenPrefix = []byte("registry/token/")

type tokenRecord struct {
	Owner       [20]byte
	Deactivated bool
}

// TokenRegistry is a storage-backed asset-token ledger. It stands in for the
// external collection contract when the service runs self-contained, and it
// satisfies the redemption engine's CustodyRegistry interface.
type TokenRegistry struct {
	db  storage.Database
	cap uint64
}

// New creates a registry governing ids in [0, cap).
func New(db storage.Database, cap uint64) *TokenRegistry {
	return &TokenRegistry{db: db, cap: cap}
}

func tokenKey(id uint64) []byte {
	key := make([]byte, len(tokenPrefix)+8)
	copy(key, tokenPrefix)
	binary.BigEndian.PutUint64(key[len(tokenPrefix):], id)
	return key
}

func (r *TokenRegistry) load(id uint64) (*tokenRecord, error) {
	raw, err := r.db.Get(tokenKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := new(tokenRecord)
	if err := rlp.DecodeBytes(raw, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *TokenRegistry) store(id uint64, rec *tokenRecord) error {
	encoded, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return err
	}
	return r.db.Put(tokenKey(id), encoded)
}

// Register mints the token to the owner. Ids must be inside the governed
// range and unused.
func (r *TokenRegistry) Register(owner [20]byte, id uint64) error {
	if id >= r.cap {
		return fmt.Errorf("%w: %d", ErrOutOfRange, id)
	}
	if _, err := r.load(id); err == nil {
		return ErrTokenExists
	} else if !errors.Is(err, ErrTokenNotFound) {
		return err
	}
	return r.store(id, &tokenRecord{Owner: owner})
}

// OwnerOf reports the current holder of the token.
func (r *TokenRegistry) OwnerOf(id uint64) ([20]byte, error) {
	rec, err := r.load(id)
	if err != nil {
		return [20]byte{}, err
	}
	return rec.Owner, nil
}

// Transfer moves custody of the token. It fails when the sender is not the
// current owner.
func (r *TokenRegistry) Transfer(from, to [20]byte, id uint64) error {
	rec, err := r.load(id)
	if err != nil {
		return err
	}
	if rec.Owner != from {
		return fmt.Errorf("%w: token %d", ErrNotOwner, id)
	}
	rec.Owner = to
	return r.store(id, rec)
}

// Deactivate flags the token as ineligible for staking. Custody is
// unaffected.
func (r *TokenRegistry) Deactivate(id uint64) error {
	rec, err := r.load(id)
	if err != nil {
		return err
	}
	rec.Deactivated = true
	return r.store(id, rec)
}

// Deactivated reports whether the token has been flagged.
func (r *TokenRegistry) Deactivated(id uint64) (bool, error) {
	rec, err := r.load(id)
	if errors.Is(err, ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Deactivated, nil
}

// GovernanceCap reports the exclusive upper bound of the governed id range.
func (r *TokenRegistry) GovernanceCap() (uint64, error) {
	return r.cap, nil
}
