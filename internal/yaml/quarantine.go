package yaml

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/planindex/internal/model"
)

// Quarantine moves filePath into a quarantine/ directory next to it.
func Quarantine(filePath string) (string, error) {
	quarantineDir := filepath.Join(filepath.Dir(filePath), "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	timestamp := time.Now().Format("20060102T150405.000")
	quarantinePath := filepath.Join(quarantineDir, fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), timestamp))

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}

	log.Printf("quarantined corrupted file: %s -> %s", filePath, quarantinePath)
	return quarantinePath, nil
}

// RestoreFromBackup copies filePath+".bak" over filePath when the backup is
// a valid snapshot.
func RestoreFromBackup(filePath string) error {
	bakPath := filePath + ".bak"
	content, err := os.ReadFile(bakPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("no backup file: %s", bakPath)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	if err := ValidateSnapshotHeader(content); err != nil {
		return fmt.Errorf("backup is also corrupted: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}

	log.Printf("restored from backup: %s -> %s", bakPath, filePath)
	return nil
}

// WriteEmptySnapshot writes a snapshot holding no plan elements.
func WriteEmptySnapshot(filePath string) error {
	if err := WriteSnapshot(filePath, model.PlanElementSnapshot{}); err != nil {
		return fmt.Errorf("write empty snapshot: %w", err)
	}

	log.Printf("generated empty snapshot: %s", filePath)
	return nil
}

// Recover quarantines a corrupted snapshot and replaces it with its backup,
// or with an empty snapshot when no usable backup exists. restored reports
// which of the two happened.
func Recover(filePath string) (restored bool, err error) {
	if _, err := Quarantine(filePath); err != nil {
		return false, fmt.Errorf("quarantine failed: %w", err)
	}

	bakErr := RestoreFromBackup(filePath)
	if bakErr == nil {
		return true, nil
	}
	log.Printf("backup restore failed for %s: %v, writing empty snapshot", filePath, bakErr)

	if err := WriteEmptySnapshot(filePath); err != nil {
		return false, err
	}
	return false, nil
}
