package services

import (
	"context"
	"errors"
	"strings"

	"offertory/internal/core"
	"offertory/internal/gateway"
)

type BudgetService struct {
	budgets     gateway.BudgetStore
	invalidator Invalidator
}

func NewBudgetService(budgets gateway.BudgetStore, invalidator Invalidator) *BudgetService {
	return &BudgetService{budgets: budgets, invalidator: invalidator}
}

func (s *BudgetService) List(ctx context.Context, year int) ([]core.BudgetRecord, error) {
	if year < 1900 || year > 3000 {
		return nil, core.ErrInvalidYear
	}
	budgets, err := s.budgets.ListBudgets(ctx, year)
	if err != nil {
		return nil, core.Persistence("list budgets", err)
	}
	return budgets, nil
}

// Save parses rawAmount ("1,200,000" is accepted) and upserts the budget for
// year and code.
func (s *BudgetService) Save(ctx context.Context, year int, code, rawAmount, note string) (core.BudgetRecord, error) {
	amount, err := core.ParseAmount(rawAmount)
	if err != nil {
		return core.BudgetRecord{}, err
	}
	b := core.BudgetRecord{
		Year:   year,
		Code:   core.NormalizeCode(code),
		Amount: amount,
		Note:   strings.TrimSpace(note),
	}
	if err := b.Validate(); err != nil {
		return core.BudgetRecord{}, err
	}
	if err := s.budgets.UpsertBudget(ctx, b); err != nil {
		if errors.Is(err, core.ErrValidation) {
			return core.BudgetRecord{}, err
		}
		return core.BudgetRecord{}, core.Persistence("save budget", err)
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate()
	}
	return b, nil
}
