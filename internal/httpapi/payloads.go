package httpapi

import (
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
)

type deductRequest struct {
	Operation string         `json:"operation"`
	Metadata  map[string]any `json:"metadata"`
}

type creditRequest struct {
	Amount      int64          `json:"amount"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

type tokensResponse struct {
	Balance    balancePayload       `json:"balance"`
	History    []transactionPayload `json:"history"`
	Operations operationsPayload    `json:"operations"`
}

type operationsPayload struct {
	Costs      map[string]int64    `json:"costs"`
	Categories map[string][]string `json:"categories"`
}

type renewalResponse struct {
	Renewed bool            `json:"renewed"`
	Balance *balancePayload `json:"balance"`
}

type balancePayload struct {
	UserID      string    `json:"userId"`
	Amount      int64     `json:"amount"`
	Plan        string    `json:"plan"`
	RenewalDate time.Time `json:"renewalDate"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type transactionPayload struct {
	ID          int64          `json:"id"`
	UserID      string         `json:"userId"`
	Amount      int64          `json:"amount"`
	Operation   string         `json:"operation"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"createdAt"`
}

func newBalancePayload(record ledger.BalanceRecord) balancePayload {
	return balancePayload{
		UserID:      record.UserID.String(),
		Amount:      record.Amount.Int64(),
		Plan:        record.Plan.String(),
		RenewalDate: record.RenewalDate.UTC(),
		CreatedAt:   record.CreatedAt.UTC(),
		UpdatedAt:   record.UpdatedAt.UTC(),
	}
}

func newTransactionPayloads(transactions []ledger.Transaction) []transactionPayload {
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, transactionPayload{
			ID:          transaction.ID,
			UserID:      transaction.UserID.String(),
			Amount:      transaction.Amount.Int64(),
			Operation:   transaction.Operation,
			Description: transaction.Description,
			Metadata:    transaction.Metadata,
			CreatedAt:   transaction.CreatedAt.UTC(),
		})
	}
	return payloads
}
