package controller

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/ledger"
)

type CreditController struct {
	Ledger ledger.Ledger
	Log    *zap.Logger
}

type purchaseBody struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// ConfirmPurchase books a confirmed billing purchase into the ledger. The
// billing flow itself lives elsewhere; this only consumes its confirmation.
func (c *CreditController) ConfirmPurchase(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}

	var body purchaseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	entryID, err := c.Ledger.Purchase(r.Context(), tenant, body.Amount, body.Reference)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"entry_id": entryID})
}

func (c *CreditController) GetBalance(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}

	balance, err := c.Ledger.Balance(r.Context(), tenant)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"balance": balance})
}
