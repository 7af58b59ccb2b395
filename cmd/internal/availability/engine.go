package availability

import "time"

// ComputeStatus maps a record and an instant to an availability decision.
//
// Precedence, first match wins:
//  1. blocked by the company
//  2. never completed, or liberated at/after the last completion
//  3. completed with no wait window (one-shot teste)
//  4. wait window reached or still running
//
// It performs no I/O and depends only on its arguments.
func ComputeStatus(rec Record, now time.Time) Status {
	st := Status{DataConclusao: cloneTime(rec.UltimaConclusao)}

	if rec.BlockedByCompany {
		st.Reason = ReasonBloqueadoEmpresa
		return st
	}

	if rec.UltimaConclusao == nil || liberatedSinceCompletion(rec) {
		st.Available = true
		st.Reason = ReasonPrimeiraTentativa
		return st
	}

	end := rec.ProximaDisponibilidade
	if end == nil {
		end = windowEnd(*rec.UltimaConclusao, rec.PeriodicidadeDias)
	}
	if end == nil {
		st.Reason = ReasonConcluidoSemPeriodicidade
		return st
	}

	st.ProximaDisponibilidade = cloneTime(end)
	if !now.Before(*end) {
		st.Available = true
		st.Reason = ReasonPeriodicidadeAtingida
		return st
	}
	st.Reason = ReasonAguardandoPeriodicidade
	return st
}

func liberatedSinceCompletion(rec Record) bool {
	if rec.UltimaLiberacao == nil || rec.UltimaConclusao == nil {
		return false
	}
	return !rec.UltimaLiberacao.Before(*rec.UltimaConclusao)
}
