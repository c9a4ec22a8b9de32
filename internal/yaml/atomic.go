// Package yaml reads and writes plan element snapshot files and recovers
// corrupted ones.
package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/planindex/internal/model"
)

const tempPattern = ".planindex-tmp-*.yaml"

// WriteSnapshot stamps snap with the current header and update time and
// writes it to path with WriteSnapshotRaw.
func WriteSnapshot(path string, snap model.PlanElementSnapshot) error {
	snap.SchemaVersion = model.SnapshotSchemaVersion
	snap.FileType = model.SnapshotFileType
	if snap.PlanElements == nil {
		snap.PlanElements = []*model.PlanElement{}
	}
	snap.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	content, err := yamlv3.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return WriteSnapshotRaw(path, content)
}

// WriteSnapshotRaw replaces path with content through a synced temp file in
// the same directory. content must carry a valid snapshot header, so the
// path+".bak" copy of the replaced file is always restorable.
func WriteSnapshotRaw(path string, content []byte) error {
	if err := ValidateSnapshotHeader(content); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	tmpName, err := writeTemp(dir, content)
	if err != nil {
		return err
	}
	defer os.Remove(tmpName)

	onDisk, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("re-read %s: %w", tmpName, err)
	}
	if err := ValidateSnapshotHeader(onDisk); err != nil {
		return fmt.Errorf("temp file: %w", err)
	}

	if err := backup(path); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func writeTemp(dir string, content []byte) (string, error) {
	f, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	_, err = f.Write(content)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	return name, nil
}

// backup copies the current snapshot to path+".bak". A missing snapshot
// needs no backup, and a corrupted one never replaces a good backup.
func backup(path string) error {
	current, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read for backup: %w", err)
	}
	if ValidateSnapshotHeader(current) != nil {
		return nil
	}

	f, err := os.OpenFile(path+".bak", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	_, err = f.Write(current)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}
