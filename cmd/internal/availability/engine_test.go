package availability

import (
	"testing"
	"time"
)

func ptrTime(t time.Time) *time.Time { return &t }

func ptrInt(n int) *int { return &n }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeStatus_Precedence(t *testing.T) {
	t.Parallel()

	now := day(2024, 2, 10)
	completed := day(2024, 1, 1)

	cases := []struct {
		name      string
		rec       Record
		available bool
		reason    Reason
	}{
		{
			name:   "blocked overrides first attempt",
			rec:    Record{BlockedByCompany: true},
			reason: ReasonBloqueadoEmpresa,
		},
		{
			name: "blocked overrides reached window",
			rec: Record{
				BlockedByCompany:  true,
				PeriodicidadeDias: ptrInt(1),
				UltimaConclusao:   ptrTime(completed),
			},
			reason: ReasonBloqueadoEmpresa,
		},
		{
			name: "blocked overrides liberation",
			rec: Record{
				BlockedByCompany: true,
				UltimaLiberacao:  ptrTime(now),
				UltimaConclusao:  ptrTime(completed),
			},
			reason: ReasonBloqueadoEmpresa,
		},
		{
			name:      "never completed",
			rec:       Record{PeriodicidadeDias: ptrInt(30)},
			available: true,
			reason:    ReasonPrimeiraTentativa,
		},
		{
			name:   "one-shot completed",
			rec:    Record{UltimaConclusao: ptrTime(completed)},
			reason: ReasonConcluidoSemPeriodicidade,
		},
		{
			name: "liberated after completion",
			rec: Record{
				UltimaConclusao: ptrTime(completed),
				UltimaLiberacao: ptrTime(completed.Add(time.Hour)),
			},
			available: true,
			reason:    ReasonPrimeiraTentativa,
		},
		{
			name: "liberated before completion does not count",
			rec: Record{
				UltimaConclusao: ptrTime(completed),
				UltimaLiberacao: ptrTime(completed.Add(-time.Hour)),
			},
			reason: ReasonConcluidoSemPeriodicidade,
		},
		{
			name: "window reached",
			rec: Record{
				PeriodicidadeDias: ptrInt(30),
				UltimaConclusao:   ptrTime(completed),
			},
			available: true,
			reason:    ReasonPeriodicidadeAtingida,
		},
		{
			name: "window running",
			rec: Record{
				PeriodicidadeDias: ptrInt(90),
				UltimaConclusao:   ptrTime(completed),
			},
			reason: ReasonAguardandoPeriodicidade,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ComputeStatus(tc.rec, now)
			if got.Available != tc.available || got.Reason != tc.reason {
				t.Fatalf("ComputeStatus()=(%v,%q) want (%v,%q)", got.Available, got.Reason, tc.available, tc.reason)
			}
			if got.Available && tc.rec.BlockedByCompany {
				t.Fatalf("available record must not be blocked")
			}
		})
	}
}

func TestComputeStatus_ThirtyDayWindow(t *testing.T) {
	t.Parallel()

	rec := Record{
		PeriodicidadeDias: ptrInt(30),
		UltimaConclusao:   ptrTime(day(2024, 1, 1)),
	}

	waiting := ComputeStatus(rec, day(2024, 1, 20))
	if waiting.Available || waiting.Reason != ReasonAguardandoPeriodicidade {
		t.Fatalf("2024-01-20: got (%v,%q)", waiting.Available, waiting.Reason)
	}
	if waiting.ProximaDisponibilidade == nil || !waiting.ProximaDisponibilidade.Equal(day(2024, 1, 31)) {
		t.Fatalf("proxima_disponibilidade=%v want 2024-01-31", waiting.ProximaDisponibilidade)
	}
	if waiting.DataConclusao == nil || !waiting.DataConclusao.Equal(day(2024, 1, 1)) {
		t.Fatalf("data_conclusao=%v want 2024-01-01", waiting.DataConclusao)
	}

	reached := ComputeStatus(rec, day(2024, 1, 31))
	if !reached.Available || reached.Reason != ReasonPeriodicidadeAtingida {
		t.Fatalf("2024-01-31: got (%v,%q)", reached.Available, reached.Reason)
	}

	justBefore := ComputeStatus(rec, day(2024, 1, 31).Add(-time.Nanosecond))
	if justBefore.Available {
		t.Fatalf("window must still be running one instant before its end")
	}
}

func TestComputeStatus_CapturedWindowWins(t *testing.T) {
	t.Parallel()

	// Periodicity changed to 90 after a completion that captured a 30 day window.
	rec := Record{
		PeriodicidadeDias:      ptrInt(90),
		UltimaConclusao:        ptrTime(day(2024, 1, 1)),
		ProximaDisponibilidade: ptrTime(day(2024, 1, 31)),
	}
	got := ComputeStatus(rec, day(2024, 2, 1))
	if !got.Available || got.Reason != ReasonPeriodicidadeAtingida {
		t.Fatalf("got (%v,%q), want captured window to be reached", got.Available, got.Reason)
	}

	// Periodicity cleared after the window was captured.
	rec.PeriodicidadeDias = nil
	got = ComputeStatus(rec, day(2024, 1, 15))
	if got.Available || got.Reason != ReasonAguardandoPeriodicidade {
		t.Fatalf("got (%v,%q), want captured window still running", got.Available, got.Reason)
	}
}

func TestComputeStatus_LiberationAtCompletionInstantWins(t *testing.T) {
	t.Parallel()

	at := day(2024, 3, 1)
	got := ComputeStatus(Record{UltimaConclusao: ptrTime(at), UltimaLiberacao: ptrTime(at)}, at)
	if !got.Available || got.Reason != ReasonPrimeiraTentativa {
		t.Fatalf("got (%v,%q)", got.Available, got.Reason)
	}
}

func TestComputeStatus_IsDeterministicAndDoesNotAlias(t *testing.T) {
	t.Parallel()

	rec := Record{
		PeriodicidadeDias: ptrInt(30),
		UltimaConclusao:   ptrTime(day(2024, 1, 1)),
	}
	now := day(2024, 1, 10)

	a := ComputeStatus(rec, now)
	b := ComputeStatus(rec, now)
	if a.Available != b.Available || a.Reason != b.Reason || !a.ProximaDisponibilidade.Equal(*b.ProximaDisponibilidade) {
		t.Fatalf("ComputeStatus is not deterministic: %+v vs %+v", a, b)
	}

	*a.DataConclusao = day(1999, 1, 1)
	if !rec.UltimaConclusao.Equal(day(2024, 1, 1)) {
		t.Fatalf("status must not alias the record's timestamps")
	}
}
