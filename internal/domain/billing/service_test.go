package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/text/language"

	"github.com/clinic/clinic/internal/domain/encounter"
	"github.com/clinic/clinic/internal/domain/workflow"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/websocket"
)

// -- Mock Repository --

type mockRepo struct {
	invoices map[uuid.UUID]*Invoice
}

func newMockRepo() *mockRepo {
	return &mockRepo{invoices: make(map[uuid.UUID]*Invoice)}
}

func (m *mockRepo) Create(_ context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	inv.IssuedAt = time.Now()
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *inv
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) GetByRecord(_ context.Context, recordID uuid.UUID) (*Invoice, error) {
	for _, inv := range m.invoices {
		if inv.MedicalRecordID == recordID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) MarkPaid(_ context.Context, inv *Invoice, by string) error {
	cur, ok := m.invoices[inv.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if cur.Status != InvoiceIssued {
		return fmt.Errorf("stale: %w", workflow.ErrInvalidTransition)
	}
	now := time.Now()
	cur.Status, cur.PaidBy, cur.PaidAt = InvoicePaid, &by, &now
	inv.Status, inv.PaidBy, inv.PaidAt = cur.Status, cur.PaidBy, cur.PaidAt
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Invoice, int, error) {
	var out []*Invoice
	for _, inv := range m.invoices {
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		cp := *inv
		out = append(out, &cp)
	}
	return out, len(out), nil
}

// -- Fakes --

type fakeRecords struct {
	views map[uuid.UUID]*encounter.BillingView
}

func (f *fakeRecords) add(status workflow.RecordStatus, svc, med []workflow.Line) uuid.UUID {
	rec := &encounter.MedicalRecord{ID: uuid.New(), AppointmentID: uuid.New(), PatientID: uuid.New(), Status: status}
	view := &encounter.BillingView{Record: rec}
	for _, l := range svc {
		view.ServiceLines = append(view.ServiceLines, workflow.PricedLine{Line: l, Total: l.Total()})
	}
	for _, l := range med {
		view.MedicationLines = append(view.MedicationLines, workflow.PricedLine{Line: l, Total: l.Total()})
	}
	f.views[rec.ID] = view
	return rec.ID
}

func (f *fakeRecords) LockForBilling(_ context.Context, id uuid.UUID) (*encounter.BillingView, error) {
	v, ok := f.views[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *v
	rec := *v.Record
	cp.Record = &rec
	return &cp, nil
}

func (f *fakeRecords) MarkPaid(_ context.Context, id uuid.UUID) (bool, error) {
	v, ok := f.views[id]
	if !ok {
		return false, pgx.ErrNoRows
	}
	next, err := workflow.MarkPaid(v.Record.Snapshot())
	if err != nil {
		return false, err
	}
	changed := v.Record.Status != next
	v.Record.Status = next
	return changed, nil
}

func (f *fakeRecords) status(id uuid.UUID) workflow.RecordStatus { return f.views[id].Record.Status }

type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev websocket.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func newTestService() (*Service, *mockRepo, *fakeRecords, *recordingPublisher) {
	repo := newMockRepo()
	records := &fakeRecords{views: make(map[uuid.UUID]*encounter.BillingView)}
	pub := &recordingPublisher{}
	svc := NewService(repo, records, passTx{})
	svc.SetFormatter(NewFormatter(language.English, "₫"))
	svc.SetPublisher(pub)
	return svc, repo, records, pub
}

func line(qty, price int64) workflow.Line {
	return workflow.Line{ItemID: uuid.New(), Name: "item", Quantity: qty, UnitPrice: price}
}

func cashier() context.Context {
	return context.WithValue(context.Background(), auth.UserIDKey, "cashier-mai")
}

// -- Tests --

func TestGenerate_SingleServiceLine(t *testing.T) {
	svc, repo, records, pub := newTestService()
	recID := records.add(workflow.RecordCompleted, []workflow.Line{line(2, 50000)}, nil)

	inv, err := svc.Generate(cashier(), recID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.Total != 100000 || inv.ServiceTotal != 100000 || inv.MedicationTotal != 0 {
		t.Errorf("unexpected totals %+v", inv)
	}
	if inv.Status != InvoiceIssued || inv.IssuedBy != "cashier-mai" {
		t.Errorf("unexpected status/issuer %s/%s", inv.Status, inv.IssuedBy)
	}
	if inv.TotalDisplay != "100,000 ₫" {
		t.Errorf("unexpected display %q", inv.TotalDisplay)
	}
	if records.status(recID) != workflow.RecordCompleted {
		t.Error("issuing must not mark the record paid")
	}
	if len(repo.invoices) != 1 || pub.count(EventIssued) != 1 || pub.count(EventPaid) != 0 {
		t.Errorf("expected one issued invoice and event")
	}
}

func TestGenerate_BothLists(t *testing.T) {
	svc, _, records, _ := newTestService()
	recID := records.add(workflow.RecordCompleted,
		[]workflow.Line{line(1, 150000)},
		[]workflow.Line{line(2, 20000), line(1, 5000)})

	inv, err := svc.Generate(context.Background(), recID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.ServiceTotal != 150000 || inv.MedicationTotal != 45000 || inv.Total != 195000 {
		t.Errorf("unexpected totals %d/%d/%d", inv.ServiceTotal, inv.MedicationTotal, inv.Total)
	}
	if len(inv.MedicationLines) != 2 || inv.MedicationLines[0].Total != 40000 {
		t.Errorf("unexpected medication lines %+v", inv.MedicationLines)
	}
}

func TestGenerate_Rejected(t *testing.T) {
	svc, repo, records, pub := newTestService()

	empty := records.add(workflow.RecordCompleted, nil, nil)
	if _, err := svc.Generate(context.Background(), empty, false); !errors.Is(err, workflow.ErrEmptyBillable) {
		t.Errorf("empty: expected EmptyBillable, got %v", err)
	}

	open := records.add(workflow.RecordInProgress, []workflow.Line{line(1, 1)}, nil)
	if _, err := svc.Generate(context.Background(), open, false); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("in progress: expected InvalidTransition, got %v", err)
	}

	if _, err := svc.Generate(context.Background(), uuid.New(), false); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("unknown record: expected ErrNoRows, got %v", err)
	}

	if len(repo.invoices) != 0 || len(pub.events) != 0 {
		t.Error("rejected invoices must not be stored or published")
	}
}

func TestGenerate_Twice(t *testing.T) {
	svc, repo, records, _ := newTestService()
	recID := records.add(workflow.RecordCompleted, []workflow.Line{line(1, 1000)}, nil)

	if _, err := svc.Generate(context.Background(), recID, false); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := svc.Generate(context.Background(), recID, false); !errors.Is(err, workflow.ErrDuplicateInvoice) {
		t.Fatalf("second: expected DuplicateInvoice, got %v", err)
	}
	if len(repo.invoices) != 1 {
		t.Errorf("expected one invoice, got %d", len(repo.invoices))
	}
}

func TestGenerate_AndPay(t *testing.T) {
	svc, _, records, pub := newTestService()
	recID := records.add(workflow.RecordCompleted, []workflow.Line{line(1, 1000)}, nil)

	inv, err := svc.Generate(cashier(), recID, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.Status != InvoicePaid || inv.PaidAt == nil || *inv.PaidBy != "cashier-mai" {
		t.Errorf("expected paid invoice, got %+v", inv)
	}
	if records.status(recID) != workflow.RecordPaid {
		t.Errorf("expected record PAID, got %s", records.status(recID))
	}
	if pub.count(EventIssued) != 1 || pub.count(EventPaid) != 1 || pub.count(encounter.EventPaid) != 1 {
		t.Errorf("unexpected events %+v", pub.events)
	}
}

func TestPay_Idempotent(t *testing.T) {
	svc, _, records, pub := newTestService()
	recID := records.add(workflow.RecordCompleted, []workflow.Line{line(3, 12000)}, nil)
	inv, _ := svc.Generate(context.Background(), recID, false)

	paid, err := svc.Pay(cashier(), inv.ID)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if paid.Status != InvoicePaid || records.status(recID) != workflow.RecordPaid {
		t.Fatalf("expected invoice and record PAID")
	}
	firstPaidAt := *paid.PaidAt

	again, err := svc.Pay(cashier(), inv.ID)
	if err != nil {
		t.Fatalf("second pay must succeed: %v", err)
	}
	if !again.PaidAt.Equal(firstPaidAt) {
		t.Error("second pay must not change paid_at")
	}
	if pub.count(EventPaid) != 1 {
		t.Errorf("expected one paid event, got %d", pub.count(EventPaid))
	}

	if _, err := svc.Pay(context.Background(), uuid.New()); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("unknown invoice: expected ErrNoRows, got %v", err)
	}
}

func TestFormatter(t *testing.T) {
	en := NewFormatter(language.English, "₫")
	if got := en.Format(1234567); got != "1,234,567 ₫" {
		t.Errorf("en: got %q", got)
	}
	if got := NewFormatter(language.English, "").Format(0); got != "0" {
		t.Errorf("no symbol: got %q", got)
	}

	vi := NewFormatter(language.Vietnamese, "₫").Format(1234567)
	if !strings.HasSuffix(vi, " ₫") || strings.Contains(vi, "1234567") {
		t.Errorf("vi: expected grouped amount with symbol, got %q", vi)
	}
}
