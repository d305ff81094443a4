package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinic/clinic/internal/platform/apierr"
)

// -- Mock Repository --

type mockRepo struct {
	items map[uuid.UUID]*Item
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Item)}
}

func (m *mockRepo) Create(_ context.Context, it *Item) error {
	for _, other := range m.items {
		if other.Code == it.Code {
			return errors.New("duplicate code")
		}
	}
	it.ID = uuid.New()
	it.CreatedAt = time.Now()
	it.UpdatedAt = it.CreatedAt
	cp := *it
	m.items[it.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Item, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *it
	return &cp, nil
}

func (m *mockRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*Item, error) {
	var out []*Item
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) Update(_ context.Context, it *Item) error {
	if _, ok := m.items[it.ID]; !ok {
		return pgx.ErrNoRows
	}
	it.UpdatedAt = time.Now()
	cp := *it
	m.items[it.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, activeOnly bool, search string, limit, offset int) ([]*Item, int, error) {
	var out []*Item
	for _, it := range m.items {
		if activeOnly && !it.Active {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(it.Name+it.Code), strings.ToLower(search)) {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func strPtr(s string) *string { return &s }
func i64Ptr(n int64) *int64   { return &n }
func boolPtr(b bool) *bool    { return &b }

func newTestService() *Service {
	return NewService(newMockRepo(), KindMedication)
}

func TestCreate(t *testing.T) {
	svc := newTestService()
	it, err := svc.Create(context.Background(), ItemInput{
		Code: strPtr(" TH001 "), Name: strPtr("Cetirizine 10mg"), Unit: strPtr("viên"), UnitPrice: i64Ptr(2500),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if it.Code != "TH001" {
		t.Errorf("expected trimmed code, got %q", it.Code)
	}
	if !it.Active {
		t.Error("new items should be active")
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := newTestService()
	cases := []struct {
		name string
		in   ItemInput
	}{
		{"missing code", ItemInput{Name: strPtr("X"), UnitPrice: i64Ptr(1)}},
		{"blank name", ItemInput{Code: strPtr("X"), Name: strPtr("  "), UnitPrice: i64Ptr(1)}},
		{"missing price", ItemInput{Code: strPtr("X"), Name: strPtr("X")}},
		{"negative price", ItemInput{Code: strPtr("X"), Name: strPtr("X"), UnitPrice: i64Ptr(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.in)
			var ve *apierr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestUpdate_KeepsUnsetFields(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	it, _ := svc.Create(ctx, ItemInput{Code: strPtr("DV01"), Name: strPtr("Soi da"), UnitPrice: i64Ptr(150000)})

	got, err := svc.Update(ctx, it.ID, ItemInput{UnitPrice: i64Ptr(180000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UnitPrice != 180000 || got.Name != "Soi da" || got.Code != "DV01" {
		t.Errorf("unexpected item %+v", got)
	}

	if _, err := svc.Update(ctx, uuid.New(), ItemInput{}); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	a, _ := svc.Create(ctx, ItemInput{Code: strPtr("A"), Name: strPtr("A"), UnitPrice: i64Ptr(100)})
	b, _ := svc.Create(ctx, ItemInput{Code: strPtr("B"), Name: strPtr("B"), UnitPrice: i64Ptr(200)})

	got, err := svc.Lookup(ctx, []uuid.UUID{a.ID, b.ID, a.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[b.ID].UnitPrice != 200 {
		t.Errorf("unexpected lookup %+v", got)
	}

	if _, err := svc.Lookup(ctx, []uuid.UUID{uuid.New()}); err == nil {
		t.Error("expected error for unknown id")
	}

	if _, err := svc.Update(ctx, b.ID, ItemInput{Active: boolPtr(false)}); err != nil {
		t.Fatal(err)
	}
	_, err = svc.Lookup(ctx, []uuid.UUID{b.ID})
	var ve *apierr.ValidationError
	if !errors.As(err, &ve) || !strings.Contains(ve.Message, "inactive") {
		t.Errorf("expected inactive error, got %v", err)
	}

	empty, err := svc.Lookup(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty lookup: %v %v", empty, err)
	}
}

func TestList_ActiveOnly(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	svc.Create(ctx, ItemInput{Code: strPtr("A"), Name: strPtr("Alpha"), UnitPrice: i64Ptr(1)})
	svc.Create(ctx, ItemInput{Code: strPtr("B"), Name: strPtr("Beta"), UnitPrice: i64Ptr(1), Active: boolPtr(false)})

	items, total, _ := svc.List(ctx, true, "", 20, 0)
	if total != 1 || items[0].Name != "Alpha" {
		t.Errorf("expected only Alpha, got %d items", total)
	}
	_, total, _ = svc.List(ctx, false, "", 20, 0)
	if total != 2 {
		t.Errorf("expected 2 items, got %d", total)
	}
	_, total, _ = svc.List(ctx, false, " bet ", 20, 0)
	if total != 1 {
		t.Errorf("expected 1 search hit, got %d", total)
	}
}
