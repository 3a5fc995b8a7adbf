package jobstore

// Tracker reports incremental progress for one job from inside the
// isolated worker. Each call is a full read-modify-atomic-write cycle
// against the store, so a concurrent status poll always sees a
// fully-written record.
type Tracker struct {
	store    *Store
	identity string
	action   Action
}

// NewTracker returns a progress tracker bound to one job.
func (s *Store) NewTracker(identity string, action Action) *Tracker {
	return &Tracker{store: s, identity: identity, action: action}
}

// SetTotal records the number of units the job will move. The total
// never shrinks below units already completed.
func (t *Tracker) SetTotal(n int64) error {
	return t.store.Update(t.identity, t.action, func(rec *JobRecord) error {
		if n < rec.CompletedUnits {
			n = rec.CompletedUnits
		}
		rec.TotalUnits = n
		return nil
	})
}

// Increment advances the completed counter by one, capped at the
// declared total so the completed/total invariant holds at every
// observable intermediate state.
func (t *Tracker) Increment() error {
	return t.store.Update(t.identity, t.action, func(rec *JobRecord) error {
		if rec.CompletedUnits < rec.TotalUnits {
			rec.CompletedUnits++
		}
		return nil
	})
}

// Completed returns the current counters.
func (t *Tracker) Completed() (completed, total int64, err error) {
	rec, err := t.store.Read(t.identity, t.action)
	if err != nil {
		return 0, 0, err
	}
	return rec.CompletedUnits, rec.TotalUnits, nil
}
