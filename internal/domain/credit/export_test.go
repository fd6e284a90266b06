package credit

import "time"

var PlanDebit = planDebit

func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }
