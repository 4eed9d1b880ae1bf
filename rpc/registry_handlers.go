package rpc

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"redeempool/native/registry"
)

type registryTokenParams struct {
	TokenID uint64 `json:"tokenId"`
}

type registryRegisterParams struct {
	Owner   string `json:"owner"`
	TokenID uint64 `json:"tokenId"`
}

type registryOwnerResult struct {
	TokenID uint64 `json:"tokenId"`
	Owner   string `json:"owner"`
}

func (s *Server) registryAvailable(w http.ResponseWriter, req *RPCRequest) bool {
	if s.registry == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", "no local token registry configured")
		return false
	}
	return true
}

func writeRegistryError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, registry.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, id, codeRedemptionInvalidParams, "not_found", err.Error())
	case errors.Is(err, registry.ErrTokenExists),
		errors.Is(err, registry.ErrOutOfRange),
		errors.Is(err, registry.ErrNotOwner):
		writeError(w, http.StatusBadRequest, id, codeRedemptionInvalidParams, "invalid_params", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeRedemptionInternal, "internal_error", err.Error())
	}
}

func (s *Server) handleRegistryRegister(w http.ResponseWriter, req *RPCRequest) {
	if !s.registryAvailable(w, req) {
		return
	}
	var params registryRegisterParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedemptionInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedemptionInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.registry.Register(owner, params.TokenID); err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistryDeactivate(w http.ResponseWriter, req *RPCRequest) {
	if !s.registryAvailable(w, req) {
		return
	}
	var params registryTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedemptionInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.registry.Deactivate(params.TokenID); err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistryGetOwner(w http.ResponseWriter, req *RPCRequest) {
	if !s.registryAvailable(w, req) {
		return
	}
	var params registryTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRedemptionInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := s.registry.OwnerOf(params.TokenID)
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, registryOwnerResult{
		TokenID: params.TokenID,
		Owner:   common.Address(owner).Hex(),
	})
}
