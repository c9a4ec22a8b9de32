package model

import (
	"errors"
	"fmt"
)

// Task is a unit of work handed to the agent. Only UID participates in
// plan element indexing.
type Task struct {
	UID          UID    `yaml:"uid"`
	Verb         string `yaml:"verb"`
	DirectObject string `yaml:"direct_object,omitempty"`
	ParentUID    UID    `yaml:"parent_uid,omitempty"`
	Source       string `yaml:"source,omitempty"`
}

type PlanElementKind string

const (
	KindAllocation  PlanElementKind = "allocation"
	KindExpansion   PlanElementKind = "expansion"
	KindAggregation PlanElementKind = "aggregation"
	KindDisposition PlanElementKind = "disposition"
)

var validKinds = map[PlanElementKind]bool{
	KindAllocation:  true,
	KindExpansion:   true,
	KindAggregation: true,
	KindDisposition: true,
}

// HasTask is implemented by everything that can be stored in a plan element
// index. TaskRef may return nil; indexes reject such values on insert.
type HasTask interface {
	TaskRef() *Task
}

// PlanElement records how the agent disposed of a single Task.
type PlanElement struct {
	UID         UID             `yaml:"uid"`
	Kind        PlanElementKind `yaml:"kind"`
	Task        *Task           `yaml:"task"`
	Asset       string          `yaml:"asset,omitempty"`       // allocation
	Subtasks    []UID           `yaml:"subtasks,omitempty"`    // expansion
	Composition UID             `yaml:"composition,omitempty"` // aggregation
	Success     bool            `yaml:"success,omitempty"`     // disposition
	CreatedAt   string          `yaml:"created_at"`
}

func (pe *PlanElement) TaskRef() *Task {
	if pe == nil {
		return nil
	}
	return pe.Task
}

var ErrInvalidPlanElement = errors.New("invalid plan element")

// Validate checks kind-specific fields. A generated UID must carry the pe
// prefix; UIDs from other agents are accepted as they are. A missing Task is
// left to the index.
func (pe *PlanElement) Validate() error {
	if !validKinds[pe.Kind] {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPlanElement, pe.Kind)
	}
	if typ, err := ParseUIDType(pe.UID); err == nil && typ != UIDTypePlanElement {
		return fmt.Errorf("%w: uid %s is a %s UID", ErrInvalidPlanElement, pe.UID, typ)
	}
	switch pe.Kind {
	case KindAllocation:
		if pe.Asset == "" {
			return fmt.Errorf("%w: allocation requires asset", ErrInvalidPlanElement)
		}
	case KindExpansion:
		if len(pe.Subtasks) == 0 {
			return fmt.Errorf("%w: expansion requires at least one subtask", ErrInvalidPlanElement)
		}
		for i, st := range pe.Subtasks {
			if st.IsZero() {
				return fmt.Errorf("%w: expansion subtask[%d] has empty UID", ErrInvalidPlanElement, i)
			}
		}
	case KindAggregation:
		if pe.Composition.IsZero() {
			return fmt.Errorf("%w: aggregation requires composition", ErrInvalidPlanElement)
		}
	}
	return nil
}

// PlanElementSnapshot is the on-disk form of an index.
type PlanElementSnapshot struct {
	SchemaVersion int            `yaml:"schema_version"`
	FileType      string         `yaml:"file_type"`
	PlanElements  []*PlanElement `yaml:"plan_elements"`
	UpdatedAt     string         `yaml:"updated_at"`
}

const (
	SnapshotSchemaVersion = 1
	SnapshotFileType      = "plan_elements"
)
