package services

import (
	"context"
	"errors"
	"strings"

	"offertory/internal/core"
	"offertory/internal/gateway"
)

// CatalogService maintains the offering type catalog.
type CatalogService struct {
	types gateway.OfferingTypeStore
}

func NewCatalogService(types gateway.OfferingTypeStore) *CatalogService {
	return &CatalogService{types: types}
}

func (s *CatalogService) List(ctx context.Context) ([]core.OfferingType, error) {
	types, err := s.types.ListOfferingTypes(ctx)
	if err != nil {
		return nil, core.Persistence("list offering types", err)
	}
	return types, nil
}

func (s *CatalogService) Save(ctx context.Context, t core.OfferingType) (core.OfferingType, error) {
	t.Code = core.NormalizeCode(t.Code)
	t.Label = strings.TrimSpace(t.Label)
	t.Category = strings.TrimSpace(t.Category)
	if err := t.Validate(); err != nil {
		return core.OfferingType{}, err
	}
	saved, err := s.types.UpsertOfferingType(ctx, t)
	if err != nil {
		if errors.Is(err, core.ErrValidation) {
			return core.OfferingType{}, err
		}
		return core.OfferingType{}, core.Persistence("save offering type", err)
	}
	return saved, nil
}

// Lookup finds types for the entry form. An exact code match comes first,
// followed by code prefixes, then label substrings.
func (s *CatalogService) Lookup(ctx context.Context, query string) ([]core.OfferingType, error) {
	types, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return types, nil
	}
	code := core.NormalizeCode(query)
	lower := strings.ToLower(query)

	var exact, prefix, label []core.OfferingType
	for _, t := range types {
		switch {
		case t.Code == code:
			exact = append(exact, t)
		case strings.HasPrefix(t.Code, code):
			prefix = append(prefix, t)
		case strings.Contains(strings.ToLower(t.Label), lower):
			label = append(label, t)
		}
	}
	out := append(exact, prefix...)
	return append(out, label...), nil
}
