package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apierr"
)

type Service struct {
	repo Repository
	kind Kind
}

func NewService(repo Repository, kind Kind) *Service {
	return &Service{repo: repo, kind: kind}
}

func (s *Service) Kind() Kind { return s.kind }

// ItemInput carries the writable fields of an Item. Nil fields keep their
// current value on update.
type ItemInput struct {
	Code      *string `json:"code"`
	Name      *string `json:"name"`
	Unit      *string `json:"unit"`
	UnitPrice *int64  `json:"unit_price"`
	Active    *bool   `json:"active"`
}

func (in ItemInput) apply(it *Item) {
	if in.Code != nil {
		it.Code = strings.TrimSpace(*in.Code)
	}
	if in.Name != nil {
		it.Name = strings.TrimSpace(*in.Name)
	}
	if in.Unit != nil {
		it.Unit = strings.TrimSpace(*in.Unit)
	}
	if in.UnitPrice != nil {
		it.UnitPrice = *in.UnitPrice
	}
	if in.Active != nil {
		it.Active = *in.Active
	}
}

func validate(it *Item) error {
	if it.Code == "" {
		return apierr.Invalid("code is required")
	}
	if it.Name == "" {
		return apierr.Invalid("name is required")
	}
	if it.UnitPrice < 0 {
		return apierr.Invalid("unit_price must not be negative")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, in ItemInput) (*Item, error) {
	it := &Item{Active: true}
	in.apply(it)
	if in.UnitPrice == nil {
		return nil, apierr.Invalid("unit_price is required")
	}
	if err := validate(it); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, it); err != nil {
		return nil, fmt.Errorf("create %s: %w", s.kind, err)
	}
	return it, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in ItemInput) (*Item, error) {
	it, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(it)
	if err := validate(it); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, it); err != nil {
		return nil, fmt.Errorf("update %s: %w", s.kind, err)
	}
	return it, nil
}

func (s *Service) List(ctx context.Context, activeOnly bool, search string, limit, offset int) ([]*Item, int, error) {
	return s.repo.List(ctx, activeOnly, strings.TrimSpace(search), limit, offset)
}

// Lookup returns the active items for ids, keyed by id. Unknown or inactive
// ids are rejected.
func (s *Service) Lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Item, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]Item{}, nil
	}
	items, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", s.kind, err)
	}
	out := make(map[uuid.UUID]Item, len(items))
	for _, it := range items {
		out[it.ID] = *it
	}
	for _, id := range ids {
		it, ok := out[id]
		if !ok {
			return nil, apierr.Invalid("unknown %s %s", s.kind, id)
		}
		if !it.Active {
			return nil, apierr.Invalid("%s %s (%s) is inactive", s.kind, it.Code, id)
		}
	}
	return out, nil
}
