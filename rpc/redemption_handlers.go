package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"redeempool/native/redemption"
)

const (
	codeRedemptionInvalidParams = -32031
	codeRedemptionConflict      = -32032
	codeRedemptionForbidden     = -32033
	codeRedemptionInternal      = -32035
)

type batchParams struct {
	Caller   string   `json:"caller"`
	TokenIDs []uint64 `json:"tokenIds"`
}

type depositParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type reclaimParams struct {
	TokenIDs []uint64 `json:"tokenIds"`
}

type commitmentParams struct {
	TokenID uint64 `json:"tokenId"`
}

type balanceParams struct {
	Address string `json:"address"`
}

type poolJSON struct {
	Deadline         int64  `json:"deadline"`
	TotalFunding     string `json:"totalFunding"`
	TotalCommitments uint64 `json:"totalCommitments"`
	WasDrawn         bool   `json:"wasDrawn"`
}

type commitmentJSON struct {
	TokenID   uint64  `json:"tokenId"`
	Committer *string `json:"committer,omitempty"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// writeRedemptionError maps engine sentinels to JSON-RPC error codes.
func writeRedemptionError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, redemption.ErrUnsortedTokenIDs),
		errors.Is(err, redemption.ErrIneligibleToken),
		errors.Is(err, redemption.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, id, codeRedemptionInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, redemption.ErrUncommittedToken):
		writeError(w, http.StatusForbidden, id, codeRedemptionForbidden, "forbidden", err.Error())
	case errors.Is(err, redemption.ErrAfterDeadline),
		errors.Is(err, redemption.ErrBeforeDeadline),
		errors.Is(err, redemption.ErrNoCommitments),
		errors.Is(err, redemption.ErrReentrantCall),
		errors.Is(err, redemption.ErrPoolExists),
		errors.Is(err, redemption.ErrPoolNotFound):
		writeError(w, http.StatusConflict, id, codeRedemptionConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeRedemptionInternal, "internal_error", err.Error())
	}
}

func (s *Server) handleGetPool(w http.ResponseWriter, req *RPCRequest) {
	pool, err := s.node.RedemptionPool()
	if err != nil {
		writeRedemptionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolJSON{
		Deadline:         pool.Deadline,
		TotalFunding:     pool.TotalFunding.String(),
		TotalCommitments: pool.TotalCommitments,
		WasDrawn:         pool.WasDrawn,
	})
}

func (s *Server) handleGetCommitment(w http.ResponseWriter, req *RPCRequest) {
	var params commitmentParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedemptionInvalidParams, "invalid_params", err.Error())
		return
	}
	holder, ok, err := s.node.RedemptionCommitter(params.TokenID)
	if err != nil {
		writeRedemptionError(w, req.ID, err)
		return
	}
	result := commitmentJSON{TokenID: params.TokenID}
	if ok {
		encoded := common.Address(holder).Hex()
		result.Committer = &encoded
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedemptionInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedemptionInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		writeRedemptionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: balance.String()})
}

func (s *Server) handleDeposit(w http.ResponseWriter, req *RPCRequest) {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedemptionInvalidParams, "invalid_params", err.Error())
		return
	}
	from, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedemptionInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedemptionInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.RedemptionDeposit(from, amount); err != nil {
		writeRedemptionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleCommit(w http.ResponseWriter, req *RPCRequest) {
	caller, ids, ok := s.decodeBatch(w, req)
	if !ok {
		return
	}
	if err := s.node.RedemptionCommit(caller, ids); err != nil {
		writeRedemptionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRevoke(w http.ResponseWriter, req *RPCRequest) {
	caller, ids, ok := s.decodeBatch(w, req)
	if !ok {
		return
	}
	if err := s.node.RedemptionRevoke(caller, ids); err != nil {
		writeRedemptionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRedeem(w http.ResponseWriter, req *RPCRequest) {
	caller, ids, ok := s.decodeBatch(w, req)
	if !ok {
		return
	}
	amount, err := s.node.RedemptionRedeem(caller, ids)
	if err != nil {
		writeRedemptionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amount.String()})
}

func (s *Server) handleDraw(w http.ResponseWriter, req *RPCRequest) {
	leftover, err := s.node.RedemptionDraw()
	if err != nil {
		writeRedemptionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: leftover.String()})
}

func (s *Server) handleReclaim(w http.ResponseWriter, req *RPCRequest) {
	var params reclaimParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedemptionInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.RedemptionReclaim(params.TokenIDs); err != nil {
		writeRedemptionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) decodeBatch(w http.ResponseWriter, req *RPCRequest) ([20]byte, []uint64, bool) {
	var params batchParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedemptionInvalidParams, "invalid_params", err.Error())
		return [20]byte{}, nil, false
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedemptionInvalidParams, "invalid_params", err.Error())
		return [20]byte{}, nil, false
	}
	return caller, params.TokenIDs, true
}
