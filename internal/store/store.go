// Package store owns a plan element index together with the mutex, snapshot
// file and event bus around it.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/msageha/planindex/internal/events"
	"github.com/msageha/planindex/internal/index"
	"github.com/msageha/planindex/internal/lock"
	"github.com/msageha/planindex/internal/model"
	yamlutil "github.com/msageha/planindex/internal/yaml"
)

var (
	ErrSnapshotTooLarge = errors.New("snapshot exceeds max_snapshot_bytes")
	ErrSnapshotCorrupt  = errors.New("snapshot corrupt")
)

type Store struct {
	path     string
	maxBytes int
	bus      *events.Bus
	logger   *log.Logger
	logLevel model.LogLevel

	mu  sync.RWMutex
	set *index.PlanElementSet[*model.PlanElement]

	reloads  singleflight.Group
	readFile func(string) ([]byte, error)
}

// New creates an empty store for the snapshot at cfg.Store.SnapshotPath.
// bus may be nil.
func New(cfg model.Config, bus *events.Bus, logger *log.Logger, logLevel model.LogLevel) *Store {
	return &Store{
		path:     cfg.Store.SnapshotPath,
		maxBytes: cfg.Store.MaxSnapshotBytes,
		bus:      bus,
		logger:   logger,
		logLevel: logLevel,
		set:      index.NewPlanElementSet[*model.PlanElement](),
		readFile: os.ReadFile,
	}
}

func (s *Store) Path() string { return s.path }

// Add stores pe as the plan element of its task, replacing any previous one.
// A missing UID is generated and a missing CreatedAt is taken from a
// generated UID, or the current time. Elements without a task fail with
// index.ErrMissingTask and leave the store unchanged.
func (s *Store) Add(pe *model.PlanElement) error {
	if pe == nil {
		return fmt.Errorf("%w: nil plan element", model.ErrInvalidPlanElement)
	}
	if err := pe.Validate(); err != nil {
		return err
	}
	taskUID, ok := index.TaskUID(pe)
	if !ok {
		return index.ErrMissingTask
	}
	if pe.UID.IsZero() {
		uid, err := model.GenerateUID(model.UIDTypePlanElement)
		if err != nil {
			return err
		}
		pe.UID = uid
	}
	if pe.CreatedAt == "" {
		created := time.Now().UTC()
		if ts, err := model.ParseUIDTimestamp(pe.UID); err == nil {
			created = ts
		}
		pe.CreatedAt = created.Format(time.RFC3339)
	}

	s.mu.Lock()
	prev, replaced, err := s.set.AddOrReplace(pe)
	size := s.set.Size()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if replaced {
		s.log(model.LogLevelInfo, "replace task=%s element=%s previous=%s", taskUID, pe.UID, prev.UID)
		s.bus.Publish(events.EventElementReplaced, events.Event{TaskUID: taskUID, Element: pe, Previous: prev, Size: size})
		return nil
	}
	s.log(model.LogLevelInfo, "add task=%s element=%s kind=%s", taskUID, pe.UID, pe.Kind)
	s.bus.Publish(events.EventElementAdded, events.Event{TaskUID: taskUID, Element: pe, Size: size})
	return nil
}

// Remove deletes the plan element of the given task. It reports false when
// there was none.
func (s *Store) Remove(taskUID model.UID) bool {
	s.mu.Lock()
	pe, ok := s.set.FindByUID(taskUID)
	if ok {
		s.set.RemoveByKey(taskUID)
	}
	size := s.set.Size()
	s.mu.Unlock()

	if !ok {
		s.log(model.LogLevelDebug, "remove_miss task=%s", taskUID)
		return false
	}
	s.log(model.LogLevelInfo, "remove task=%s element=%s", taskUID, pe.UID)
	s.bus.Publish(events.EventElementRemoved, events.Event{TaskUID: taskUID, Element: pe, Size: size})
	return true
}

func (s *Store) FindByTask(t *model.Task) (*model.PlanElement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.FindByTask(t)
}

func (s *Store) FindByUID(taskUID model.UID) (*model.PlanElement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.FindByUID(taskUID)
}

// List returns the stored plan elements ordered by the task UID each was
// stored under.
func (s *Store) List() []*model.PlanElement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := slices.Sorted(s.set.Keys())
	list := make([]*model.PlanElement, 0, len(keys))
	for _, k := range keys {
		pe, _ := s.set.FindByUID(k)
		list = append(list, pe)
	}
	return list
}

func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Size()
}

// Load replaces the store contents with the snapshot on disk. A missing
// snapshot loads as empty. A corrupted one fails with ErrSnapshotCorrupt and
// is left on disk as it is; only Mutate repairs it.
func (s *Store) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap, err := s.readSnapshot()
	switch {
	case errors.Is(err, os.ErrNotExist):
		snap = &model.PlanElementSnapshot{}
	case err != nil:
		return err
	}

	next := index.NewPlanElementSet[*model.PlanElement]()
	for i, pe := range snap.PlanElements {
		if err := next.Add(pe); err != nil {
			s.log(model.LogLevelWarn, "snapshot_skip index=%d error=%v", i, err)
		}
	}

	s.mu.Lock()
	s.set = next
	size := s.set.Size()
	s.mu.Unlock()

	s.log(model.LogLevelDebug, "snapshot_loaded path=%s size=%d", s.path, size)
	s.bus.Publish(events.EventSnapshotReloaded, events.Event{Size: size})
	return nil
}

// loadRepairing is Load for writers holding the snapshot lock. A corrupted
// snapshot is quarantined and recovered from its backup, or reset to empty,
// before loading.
func (s *Store) loadRepairing(ctx context.Context) error {
	err := s.Load(ctx)
	if !errors.Is(err, ErrSnapshotCorrupt) {
		return err
	}
	s.log(model.LogLevelWarn, "snapshot_corrupt path=%s error=%v", s.path, err)
	restored, rerr := yamlutil.Recover(s.path)
	if rerr != nil {
		return fmt.Errorf("recover snapshot %s: %w", s.path, rerr)
	}
	s.log(model.LogLevelWarn, "snapshot_recovered path=%s from_backup=%v", s.path, restored)
	return s.Load(ctx)
}

// Reload is Load with concurrent callers sharing one read.
func (s *Store) Reload(ctx context.Context) error {
	_, err, shared := s.reloads.Do("reload", func() (any, error) {
		return nil, s.Load(ctx)
	})
	if shared {
		s.log(model.LogLevelDebug, "reload_shared path=%s", s.path)
	}
	return err
}

// Save writes the store contents to the snapshot file atomically.
func (s *Store) Save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := model.PlanElementSnapshot{PlanElements: s.List()}
	if err := yamlutil.WriteSnapshot(s.path, snap); err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.path, err)
	}
	s.log(model.LogLevelDebug, "snapshot_saved path=%s size=%d", s.path, len(snap.PlanElements))
	return nil
}

// Mutate runs fn between a Load and a Save while holding the snapshot's
// writer lock, so concurrent processes apply their changes one at a time.
// A corrupted snapshot is repaired before fn runs. Nothing is saved when fn
// fails.
func (s *Store) Mutate(ctx context.Context, fn func(*Store) error) error {
	fl := lock.ForSnapshot(s.path)
	if err := fl.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			s.log(model.LogLevelWarn, "unlock path=%s error=%v", fl.Path(), err)
		}
	}()

	if err := s.loadRepairing(ctx); err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	return s.Save(ctx)
}

func (s *Store) readSnapshot() (*model.PlanElementSnapshot, error) {
	data, err := s.readFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if s.maxBytes > 0 && len(data) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes > %d", ErrSnapshotTooLarge, len(data), s.maxBytes)
	}
	snap, err := yamlutil.ParseSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}
	return snap, nil
}

func (s *Store) log(level model.LogLevel, format string, args ...any) {
	if s.logger == nil || level < s.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	s.logger.Printf("%s %s store: %s", time.Now().Format(time.RFC3339), level, msg)
}
