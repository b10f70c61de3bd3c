package services

import (
	"context"
	"errors"
	"sort"
	"strings"

	"offertory/internal/core"
	"offertory/internal/gateway"
)

// DonorQuery filters DonorService.List. Search matches a substring of the
// name, the english name or the offering number.
type DonorQuery struct {
	Search        string
	WithoutNumber bool
}

type DonorService struct {
	donors gateway.DonorStore
}

func NewDonorService(donors gateway.DonorStore) *DonorService {
	return &DonorService{donors: donors}
}

// List returns active donors, numbered donors first in numeric order, then
// the rest by name.
func (s *DonorService) List(ctx context.Context, q DonorQuery) ([]core.Donor, error) {
	all, err := s.donors.ListDonors(ctx)
	if err != nil {
		return nil, core.Persistence("list donors", err)
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]core.Donor, 0, len(all))
	for _, d := range all {
		if q.WithoutNumber && strings.TrimSpace(d.OfferingNumber) != "" {
			continue
		}
		if search != "" && !matchesDonor(d, search) {
			continue
		}
		out = append(out, d)
	}
	SortDonors(out)
	return out, nil
}

// SortDonors orders donors by numeric offering number, then by name.
func SortDonors(donors []core.Donor) {
	sort.SliceStable(donors, func(i, j int) bool {
		a, aok := core.OfferingNumberValue(donors[i].OfferingNumber)
		b, bok := core.OfferingNumberValue(donors[j].OfferingNumber)
		switch {
		case aok && bok && a != b:
			return a < b
		case aok != bok:
			return aok
		}
		return donors[i].Name < donors[j].Name
	})
}

func matchesDonor(d core.Donor, search string) bool {
	return strings.Contains(strings.ToLower(d.Name), search) ||
		strings.Contains(strings.ToLower(d.EnglishName), search) ||
		strings.Contains(strings.ToLower(d.OfferingNumber), search)
}

// Save creates or updates a donor.
func (s *DonorService) Save(ctx context.Context, d core.Donor) (core.Donor, error) {
	d.Name = strings.TrimSpace(d.Name)
	d.EnglishName = strings.TrimSpace(d.EnglishName)
	d.OfferingNumber = strings.TrimSpace(d.OfferingNumber)
	if err := d.Validate(); err != nil {
		return core.Donor{}, err
	}
	saved, err := s.donors.UpsertDonor(ctx, d)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrValidation) {
			return core.Donor{}, err
		}
		return core.Donor{}, core.Persistence("save donor", err)
	}
	return saved, nil
}

// Deactivate soft-deletes a donor; committed records keep the name they
// were written with.
func (s *DonorService) Deactivate(ctx context.Context, id string) error {
	if err := s.donors.DeactivateDonor(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return err
		}
		return core.Persistence("deactivate donor", err)
	}
	return nil
}
