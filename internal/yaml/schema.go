package yaml

import (
	"errors"
	"fmt"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/planindex/internal/model"
)

// ErrBadHeader is wrapped by every header validation failure.
var ErrBadHeader = errors.New("bad snapshot header")

type SchemaHeader struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

// ValidateSnapshotHeader checks that content starts a plan element snapshot
// whose schema version this build can read.
func ValidateSnapshotHeader(content []byte) error {
	var h SchemaHeader
	if err := yamlv3.Unmarshal(content, &h); err != nil {
		return fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	switch {
	case h.FileType != model.SnapshotFileType:
		return fmt.Errorf("%w: file_type %q, want %q", ErrBadHeader, h.FileType, model.SnapshotFileType)
	case h.SchemaVersion < 1 || h.SchemaVersion > model.SnapshotSchemaVersion:
		return fmt.Errorf("%w: schema_version %d outside 1..%d", ErrBadHeader, h.SchemaVersion, model.SnapshotSchemaVersion)
	}
	return nil
}

// ParseSnapshot validates the header of content and decodes the rest.
func ParseSnapshot(content []byte) (*model.PlanElementSnapshot, error) {
	if err := ValidateSnapshotHeader(content); err != nil {
		return nil, err
	}
	var snap model.PlanElementSnapshot
	if err := yamlv3.Unmarshal(content, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
