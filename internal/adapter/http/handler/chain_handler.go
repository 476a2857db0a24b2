package handler

import (
	"net/http"

	"github.com/iho/transactai/internal/adapter/chain"
	"github.com/iho/transactai/internal/adapter/http/dto"
)

// ChainHandler drives the simulated chain in development mode so deposits
// can be exercised end to end.
type ChainHandler struct {
	chain          *chain.Simulated
	platformWallet string
}

// NewChainHandler creates a new ChainHandler.
func NewChainHandler(sim *chain.Simulated, platformWallet string) *ChainHandler {
	return &ChainHandler{chain: sim, platformWallet: platformWallet}
}

// AddTransfer handles POST /dev/chain/transfers.
func (h *ChainHandler) AddTransfer(w http.ResponseWriter, r *http.Request) {
	var req dto.ChainTransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	amount, err := req.Validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation error", err.Error())
		return
	}

	tx := h.chain.AddTransfer(req.TxHash, req.Sender, h.platformWallet, amount, req.Denom)
	writeJSON(w, http.StatusCreated, dto.ChainTransferResponse{TxHash: tx.Hash, Height: tx.Height})
}

// Mine handles POST /dev/chain/mine.
func (h *ChainHandler) Mine(w http.ResponseWriter, r *http.Request) {
	req := dto.MineRequest{Blocks: 1}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}
	if req.Blocks <= 0 || req.Blocks > 10_000 {
		writeError(w, http.StatusBadRequest, "validation error", "blocks must be between 1 and 10000")
		return
	}

	writeJSON(w, http.StatusOK, dto.ChainHeightResponse{Height: h.chain.Mine(req.Blocks)})
}
