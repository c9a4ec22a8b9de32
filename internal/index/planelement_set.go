package index

import (
	"fmt"
	"iter"

	"github.com/msageha/planindex/internal/model"
)

// ErrMissingTask is returned by Add when the value has no Task, or a Task
// without a UID.
var ErrMissingTask = fmt.Errorf("plan element has no task: %w", ErrNoKey)

// TaskUID is the key derivation for plan element sets.
func TaskUID[E model.HasTask](e E) (model.UID, bool) {
	t := e.TaskRef()
	if t == nil || t.UID.IsZero() {
		return "", false
	}
	return t.UID, true
}

// PlanElementSet indexes values by the UID of the Task they refer to. At
// most one value is held per Task; adding a second one for the same Task
// replaces the first.
//
// The key is read from the value's Task when it is added. Rebinding a stored
// value to another Task without removing and re-adding it leaves the set
// pointing at the old Task UID.
type PlanElementSet[E model.HasTask] struct {
	keyed *Keyed[model.UID, E]
}

func NewPlanElementSet[E model.HasTask]() *PlanElementSet[E] {
	return &PlanElementSet[E]{keyed: NewKeyed[model.UID, E](TaskUID[E])}
}

// Add stores e under its Task's UID. It fails with ErrMissingTask, leaving
// the set untouched, when e has no Task.
func (s *PlanElementSet[E]) Add(e E) error {
	_, _, err := s.AddOrReplace(e)
	return err
}

// AddOrReplace is Add, additionally returning the value it displaced.
func (s *PlanElementSet[E]) AddOrReplace(e E) (prev E, replaced bool, err error) {
	prev, replaced, err = s.keyed.Put(e)
	if err != nil {
		return prev, false, ErrMissingTask
	}
	return prev, replaced, nil
}

func (s *PlanElementSet[E]) FindByTask(t *model.Task) (E, bool) {
	if t == nil {
		var zero E
		return zero, false
	}
	return s.keyed.Get(t.UID)
}

func (s *PlanElementSet[E]) FindByUID(uid model.UID) (E, bool) {
	return s.keyed.Get(uid)
}

// Remove deletes the entry for e's Task. It reports false, and does nothing,
// when no entry exists.
func (s *PlanElementSet[E]) Remove(e E) bool {
	uid, ok := TaskUID(e)
	if !ok {
		return false
	}
	return s.keyed.Delete(uid)
}

func (s *PlanElementSet[E]) RemoveByKey(uid model.UID) bool {
	return s.keyed.Delete(uid)
}

func (s *PlanElementSet[E]) Clear() {
	s.keyed.Clear()
}

func (s *PlanElementSet[E]) All() iter.Seq[E] {
	return s.keyed.All()
}

// Keys yields the Task UIDs values were stored under.
func (s *PlanElementSet[E]) Keys() iter.Seq[model.UID] {
	return s.keyed.Keys()
}

func (s *PlanElementSet[E]) Size() int {
	return s.keyed.Len()
}

func (s *PlanElementSet[E]) IsEmpty() bool {
	return s.keyed.Len() == 0
}
