package handler

import (
	"math"

	"patron/internal/ledger/models"
	dErrors "patron/pkg/domain-errors"
)

type pointsRequest struct {
	Points      int64  `json:"points"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

func (r *pointsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Points <= 0 {
		return dErrors.New(dErrors.CodeValidation, "points must be positive")
	}
	return nil
}

type adjustRequest struct {
	Delta       int64  `json:"delta"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

func (r *adjustRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Delta == 0 {
		return dErrors.New(dErrors.CodeValidation, "delta must be non-zero")
	}
	if r.Delta == math.MinInt64 {
		return dErrors.New(dErrors.CodeValidation, "delta out of range")
	}
	return nil
}

type stampRequest struct {
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

func (r *stampRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return nil
}

type accountResponse struct {
	*models.Account
	StampsRemaining       int `json:"stamps_remaining"`
	StampsProgressPercent int `json:"stamps_progress_percent"`
}

func toAccountResponse(a *models.Account) accountResponse {
	return accountResponse{
		Account:               a,
		StampsRemaining:       a.StampsRemaining(),
		StampsProgressPercent: a.StampsProgressPercent(),
	}
}

type resultResponse struct {
	Account       accountResponse     `json:"account"`
	Transaction   *models.Transaction `json:"transaction"`
	CardCompleted bool                `json:"card_completed"`
	TierChanged   bool                `json:"tier_changed"`
	PreviousTier  models.Tier         `json:"previous_tier,omitempty"`
}

func toResultResponse(r *models.Result) resultResponse {
	return resultResponse{
		Account:       toAccountResponse(r.Account),
		Transaction:   r.Transaction,
		CardCompleted: r.CardCompleted,
		TierChanged:   r.TierChanged,
		PreviousTier:  r.PreviousTier,
	}
}
