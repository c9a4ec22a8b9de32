package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// UID identifies a Task or a PlanElement. Equality is by value; the zero
// value means "no UID".
type UID string

func (u UID) String() string { return string(u) }

// IsZero reports whether u is the empty UID.
func (u UID) IsZero() bool { return u == "" }

type UIDType string

const (
	UIDTypeTask        UIDType = "task"
	UIDTypePlanElement UIDType = "pe"
)

var validUIDTypes = map[UIDType]bool{
	UIDTypeTask:        true,
	UIDTypePlanElement: true,
}

var uidRegex = regexp.MustCompile(`^(task|pe)_([0-9]{10})_[0-9a-f]{8}$`)

func GenerateUID(uidType UIDType) (UID, error) {
	if !validUIDTypes[uidType] {
		return "", fmt.Errorf("invalid UID type: %s", uidType)
	}

	timestamp := time.Now().Unix()
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return UID(fmt.Sprintf("%s_%010d_%s", uidType, timestamp, hex.EncodeToString(randomBytes))), nil
}

// ValidateUID reports whether s has the generated UID shape. UIDs received
// from other agents need not pass this check to be indexed.
func ValidateUID(s string) bool {
	return uidRegex.MatchString(s)
}

// ParseUIDType returns the prefix of a generated UID.
func ParseUIDType(uid UID) (UIDType, error) {
	m := uidRegex.FindStringSubmatch(string(uid))
	if m == nil {
		return "", fmt.Errorf("not a generated UID: %q", uid)
	}
	return UIDType(m[1]), nil
}

// ParseUIDTimestamp returns the creation second embedded in a generated UID.
func ParseUIDTimestamp(uid UID) (time.Time, error) {
	m := uidRegex.FindStringSubmatch(string(uid))
	if m == nil {
		return time.Time{}, fmt.Errorf("not a generated UID: %q", uid)
	}
	sec, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("UID %q timestamp: %w", uid, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}
