package workflow

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceAppointment_AllowedEdges(t *testing.T) {
	cases := []struct {
		from, to AppointmentStatus
	}{
		{AppointmentScheduled, AppointmentWaiting},
		{AppointmentScheduled, AppointmentCancelled},
		{AppointmentWaiting, AppointmentCompleted},
		{AppointmentWaiting, AppointmentCancelled},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s->%s", tc.from, tc.to), func(t *testing.T) {
			got, err := AdvanceAppointment(Appointment{ID: uuid.New(), Status: tc.from}, tc.to)
			require.NoError(t, err)
			assert.Equal(t, tc.to, got)
		})
	}
}

func TestAdvanceAppointment_Rejected(t *testing.T) {
	cases := []struct {
		name     string
		from, to AppointmentStatus
	}{
		{"skip waiting", AppointmentScheduled, AppointmentCompleted},
		{"backwards", AppointmentWaiting, AppointmentScheduled},
		{"self", AppointmentScheduled, AppointmentScheduled},
		{"completed is terminal", AppointmentCompleted, AppointmentCancelled},
		{"cancelled is terminal", AppointmentCancelled, AppointmentWaiting},
		{"unknown target", AppointmentScheduled, AppointmentStatus("NOSHOW")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := AdvanceAppointment(Appointment{Status: tc.from}, tc.to)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestAdvanceAppointment_CancelWithRecord(t *testing.T) {
	_, err := AdvanceAppointment(Appointment{Status: AppointmentWaiting, HasRecord: true}, AppointmentCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := AdvanceAppointment(Appointment{Status: AppointmentWaiting, HasRecord: true}, AppointmentCompleted)
	require.NoError(t, err)
	assert.Equal(t, AppointmentCompleted, got)
}

func TestStartEncounter(t *testing.T) {
	appt := Appointment{ID: uuid.New(), Status: AppointmentScheduled}
	rec, err := StartEncounter(appt, nil)
	require.NoError(t, err)
	assert.Equal(t, RecordInProgress, rec.Status)
	assert.Equal(t, appt.ID, rec.AppointmentID)
}

func TestStartEncounter_TwiceIsDuplicate(t *testing.T) {
	appt := Appointment{ID: uuid.New(), Status: AppointmentWaiting}
	rec, err := StartEncounter(appt, nil)
	require.NoError(t, err)

	// the caller may have completed the appointment in between
	appt.Status = AppointmentCompleted
	appt.HasRecord = true
	_, err = StartEncounter(appt, &rec)
	assert.ErrorIs(t, err, ErrDuplicateRecord)
	assert.Equal(t, KindDuplicateRecord, KindOf(err))
}

func TestStartEncounter_CancelledAppointment(t *testing.T) {
	_, err := StartEncounter(Appointment{ID: uuid.New(), Status: AppointmentCancelled}, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteEncounter(t *testing.T) {
	cases := []struct {
		name      string
		symptoms  string
		diagnosis string
		wantErr   error
	}{
		{"both empty", "", "", ErrIncompleteEncounter},
		{"whitespace only", "  ", "\t", ErrIncompleteEncounter},
		{"symptoms only", "itchy rash", "", nil},
		{"diagnosis only", "", "eczema", nil},
		{"both", "itchy rash", "eczema", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, err := CompleteEncounter(Record{Status: RecordInProgress, Symptoms: tc.symptoms, Diagnosis: tc.diagnosis})
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, RecordCompleted, st)
		})
	}
}

func TestCompleteEncounter_WrongStatus(t *testing.T) {
	_, err := CompleteEncounter(Record{Status: RecordCompleted, Diagnosis: "eczema"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAddLines_LockedAfterCompletion(t *testing.T) {
	lines := []Line{{ItemID: uuid.New(), Quantity: 1, UnitPrice: 10}}
	for _, st := range []RecordStatus{RecordCompleted, RecordPaid} {
		_, err := AddServiceIndication(Record{Status: st}, lines)
		assert.ErrorIs(t, err, ErrEncounterLocked)
		_, err = AddPrescription(Record{Status: st}, lines)
		assert.ErrorIs(t, err, ErrEncounterLocked)
	}
}

func TestAddPrescription_PricesLines(t *testing.T) {
	priced, err := AddPrescription(Record{Status: RecordInProgress}, []Line{
		{ItemID: uuid.New(), Quantity: 3, UnitPrice: 12000},
		{ItemID: uuid.New(), Quantity: 1, UnitPrice: 0},
	})
	require.NoError(t, err)
	require.Len(t, priced, 2)
	assert.Equal(t, int64(36000), priced[0].Total)
	assert.Equal(t, int64(0), priced[1].Total)
}

func TestPriceLines_Invalid(t *testing.T) {
	_, err := PriceLines([]Line{{Quantity: 0, UnitPrice: 1}})
	assert.ErrorIs(t, err, ErrInvalidLine)
	_, err = PriceLines([]Line{{Quantity: 1, UnitPrice: -1}})
	assert.ErrorIs(t, err, ErrInvalidLine)
}

func TestPriceLines_RejectsOverflow(t *testing.T) {
	cases := []struct {
		name  string
		lines []Line
	}{
		{"line total", []Line{{Quantity: math.MaxInt64 / 2, UnitPrice: 3}}},
		{"running sum", []Line{{Quantity: 1, UnitPrice: math.MaxInt64}, {Quantity: 1, UnitPrice: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := PriceLines(tc.lines)
			assert.ErrorIs(t, err, ErrInvalidLine)
		})
	}

	priced, err := PriceLines([]Line{{Quantity: 1, UnitPrice: math.MaxInt64}})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), priced[0].Total)
}

func TestSum_RejectsOverflow(t *testing.T) {
	total, err := Sum([]PricedLine{{Total: 2}, {Total: 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	_, err = Sum([]PricedLine{{Total: math.MaxInt64}, {Total: 1}})
	assert.ErrorIs(t, err, ErrInvalidLine)
	_, err = Sum([]PricedLine{{Total: -1}})
	assert.ErrorIs(t, err, ErrInvalidLine)
}

func TestGenerateInvoice_TotalOutOfRange(t *testing.T) {
	rec := Record{Status: RecordCompleted}

	huge := []PricedLine{{Line: Line{Quantity: math.MaxInt64 / 2, UnitPrice: 3}}}
	_, err := GenerateInvoice(rec, false, huge, nil)
	assert.ErrorIs(t, err, ErrInvalidLine)

	svc := []PricedLine{{Line: Line{Quantity: 1, UnitPrice: math.MaxInt64 - 10}}}
	med := []PricedLine{{Line: Line{Quantity: 1, UnitPrice: 11}}}
	_, err = GenerateInvoice(rec, false, svc, med)
	assert.ErrorIs(t, err, ErrInvalidLine)
}

func TestGenerateInvoice_Empty(t *testing.T) {
	_, err := GenerateInvoice(Record{Status: RecordCompleted}, false, nil, []PricedLine{})
	assert.ErrorIs(t, err, ErrEmptyBillable)
}

func TestGenerateInvoice_SingleLine(t *testing.T) {
	rec := Record{ID: uuid.New(), Status: RecordCompleted}
	lines, err := PriceLines([]Line{{ItemID: uuid.New(), Quantity: 2, UnitPrice: 50000}})
	require.NoError(t, err)

	draft, err := GenerateInvoice(rec, false, lines, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), draft.Total)
	assert.Equal(t, rec.ID, draft.MedicalRecordID)
	assert.Empty(t, draft.MedicationLines)
}

func TestGenerateInvoice_SumsBothLists(t *testing.T) {
	svc := []PricedLine{{Line: Line{Quantity: 1, UnitPrice: 150000}}}
	med := []PricedLine{{Line: Line{Quantity: 2, UnitPrice: 20000}}, {Line: Line{Quantity: 1, UnitPrice: 5000}}}

	draft, err := GenerateInvoice(Record{Status: RecordCompleted}, false, svc, med)
	require.NoError(t, err)
	assert.Equal(t, int64(150000), draft.ServiceTotal)
	assert.Equal(t, int64(45000), draft.MedicationTotal)
	assert.Equal(t, int64(195000), draft.Total)
}

func TestGenerateInvoice_SnapshotIsDetached(t *testing.T) {
	svc := []PricedLine{{Line: Line{Quantity: 1, UnitPrice: 100}, Total: 100}}
	draft, err := GenerateInvoice(Record{Status: RecordCompleted}, false, svc, nil)
	require.NoError(t, err)

	svc[0].Quantity = 5
	assert.Equal(t, int64(1), draft.ServiceLines[0].Quantity)
	assert.Equal(t, int64(100), draft.Total)
}

func TestGenerateInvoice_Preconditions(t *testing.T) {
	lines := []PricedLine{{Line: Line{Quantity: 1, UnitPrice: 1}}}

	_, err := GenerateInvoice(Record{Status: RecordInProgress}, false, lines, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = GenerateInvoice(Record{Status: RecordPaid}, false, lines, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = GenerateInvoice(Record{Status: RecordCompleted}, true, lines, nil)
	assert.ErrorIs(t, err, ErrDuplicateInvoice)
}

func TestMarkPaid(t *testing.T) {
	st, err := MarkPaid(Record{Status: RecordCompleted})
	require.NoError(t, err)
	assert.Equal(t, RecordPaid, st)

	st, err = MarkPaid(Record{Status: RecordPaid})
	require.NoError(t, err, "already paid is a no-op")
	assert.Equal(t, RecordPaid, st)

	_, err = MarkPaid(Record{Status: RecordInProgress})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCheckImagesWritable(t *testing.T) {
	assert.NoError(t, CheckImagesWritable(Record{Status: RecordInProgress}))
	assert.NoError(t, CheckImagesWritable(Record{Status: RecordCompleted}))
	assert.ErrorIs(t, CheckImagesWritable(Record{Status: RecordPaid}), ErrEncounterLocked)
}

func TestErrorIs_MatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError(KindEncounterLocked, "custom message"))
	assert.True(t, errors.Is(err, ErrEncounterLocked))
	assert.False(t, errors.Is(err, ErrEmptyBillable))
	assert.Equal(t, KindEncounterLocked, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestParseStatuses(t *testing.T) {
	st, err := ParseAppointmentStatus("waiting")
	require.NoError(t, err)
	assert.Equal(t, AppointmentWaiting, st)

	_, err = ParseAppointmentStatus("booked")
	assert.Error(t, err)

	rs, err := ParseRecordStatus("in_progress")
	require.NoError(t, err)
	assert.Equal(t, RecordInProgress, rs)

	it, err := ParseImageType(" left ")
	require.NoError(t, err)
	assert.Equal(t, ImageLeft, it)

	_, err = ParseImageType("BACK")
	assert.Error(t, err)
}

func TestSuccessors_ReturnsCopy(t *testing.T) {
	next := AppointmentScheduled.Successors()
	require.Len(t, next, 2)
	next[0] = AppointmentCompleted
	assert.Equal(t, AppointmentWaiting, AppointmentScheduled.Successors()[0])
	assert.Empty(t, AppointmentCompleted.Successors())
}
