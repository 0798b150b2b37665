package ir

import "fmt"

// Status is the lifecycle state of a record.
type Status string

const (
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
	StatusDeleted Status = "deleted"
)

// ParseStatus validates a stored or user-supplied status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusCreated, StatusUpdated, StatusDeleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown record status %q", s)
}
