package yaml

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/msageha/planindex/internal/model"
)

func TestWriteSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan_elements.yaml")

	snap := model.PlanElementSnapshot{
		PlanElements: []*model.PlanElement{
			{Kind: model.KindAllocation, Task: &model.Task{UID: "agentA/1"}, Asset: "truck-7"},
		},
	}
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	got, err := ParseSnapshot(content)
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}
	if got.SchemaVersion != model.SnapshotSchemaVersion || got.FileType != model.SnapshotFileType {
		t.Errorf("header not stamped: version=%d type=%q", got.SchemaVersion, got.FileType)
	}
	if got.UpdatedAt == "" {
		t.Error("updated_at not set")
	}
	if len(got.PlanElements) != 1 || got.PlanElements[0].Asset != "truck-7" {
		t.Errorf("unexpected content: %+v", got)
	}
}

func TestWriteSnapshot_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "pe.yaml")
	if err := WriteSnapshot(path, model.PlanElementSnapshot{}); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file not written: %v", err)
	}
}

func TestWriteSnapshot_BacksUpPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pe.yaml")

	first := model.PlanElementSnapshot{PlanElements: []*model.PlanElement{
		{Kind: model.KindDisposition, Task: &model.Task{UID: "T1"}, Success: true},
	}}
	if err := WriteSnapshot(path, first); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := WriteSnapshot(path, model.PlanElementSnapshot{}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	bak, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("ReadFile .bak failed: %v", err)
	}
	bakSnap, err := ParseSnapshot(bak)
	if err != nil {
		t.Fatalf("backup does not parse: %v", err)
	}
	if len(bakSnap.PlanElements) != 1 {
		t.Errorf("backup elements: got %d, want 1", len(bakSnap.PlanElements))
	}

	cur, _ := os.ReadFile(path)
	curSnap, err := ParseSnapshot(cur)
	if err != nil {
		t.Fatalf("current does not parse: %v", err)
	}
	if len(curSnap.PlanElements) != 0 {
		t.Errorf("current elements: got %d, want 0", len(curSnap.PlanElements))
	}
}

func TestWriteSnapshotRaw_RejectsHeaderlessYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pe.yaml")
	if err := WriteSnapshot(path, model.PlanElementSnapshot{}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	before, _ := os.ReadFile(path)

	err := WriteSnapshotRaw(path, []byte("plan_elements: []\n"))
	if !errors.Is(err, ErrBadHeader) {
		t.Fatalf("expected ErrBadHeader, got %v", err)
	}

	after, _ := os.ReadFile(path)
	if string(after) != string(before) {
		t.Error("snapshot changed after rejected write")
	}
	if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
		t.Error("rejected write must not create a backup")
	}
	// whatever ends up as .bak after a later good write is restorable
	if err := WriteSnapshot(path, model.PlanElementSnapshot{}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := RestoreFromBackup(path); err != nil {
		t.Errorf("RestoreFromBackup failed: %v", err)
	}
}

func TestWriteSnapshot_CorruptCurrentKeepsGoodBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pe.yaml")
	good := model.PlanElementSnapshot{PlanElements: []*model.PlanElement{
		{Kind: model.KindDisposition, Task: &model.Task{UID: "T1"}},
	}}
	if err := WriteSnapshot(path, good); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := WriteSnapshot(path, good); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("plan_elements: [\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := WriteSnapshot(path, model.PlanElementSnapshot{}); err != nil {
		t.Fatalf("write over corrupt file failed: %v", err)
	}
	bak, _ := os.ReadFile(path + ".bak")
	if err := ValidateSnapshotHeader(bak); err != nil {
		t.Errorf("backup replaced by corrupt content: %v", err)
	}
}

func TestWriteSnapshotRaw_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pe.yaml")

	if err := WriteSnapshotRaw(path, []byte(":\n  invalid: [\n    broken")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should not exist after failed write")
	}
}

func TestWriteSnapshot_NoTempFileLeft(t *testing.T) {
	dir := t.TempDir()
	if err := WriteSnapshot(filepath.Join(dir, "pe.yaml"), model.PlanElementSnapshot{}); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, entry := range entries {
		if entry.Name() != "pe.yaml" {
			t.Errorf("unexpected file remaining: %s", entry.Name())
		}
	}
}

func TestParseSnapshot_DecodesElements(t *testing.T) {
	snap, err := ParseSnapshot([]byte(validSnapshot))
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}
	if len(snap.PlanElements) != 1 || snap.PlanElements[0].Task.UID != "agentA/1" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}
