package models

import (
	"fmt"
	"strconv"
	"strings"
)

// CompositeID is the server-assigned identity of a knowledge point.
// Only the remote store ever mints one. Two composite IDs are equal
// iff both fields are equal, so the type must stay comparable.
type CompositeID struct {
	OwnerID    int64 `json:"owner_id" db:"owner_id"`
	SequenceID int64 `json:"sequence_id" db:"sequence_id"`
}

// String returns the canonical "{ownerId}:{sequenceId}" form.
func (c CompositeID) String() string {
	return fmt.Sprintf("%d:%d", c.OwnerID, c.SequenceID)
}

// ParseCompositeID parses the canonical "{ownerId}:{sequenceId}" form.
func ParseCompositeID(s string) (CompositeID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return CompositeID{}, fmt.Errorf("invalid composite id %q", s)
	}

	owner, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return CompositeID{}, fmt.Errorf("invalid owner id in %q: %v", s, err)
	}

	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return CompositeID{}, fmt.Errorf("invalid sequence id in %q: %v", s, err)
	}

	return CompositeID{OwnerID: owner, SequenceID: seq}, nil
}
