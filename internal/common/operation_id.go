package common

import (
	"github.com/segmentio/ksuid"
)

// GenerateOperationID returns a time-sortable globally unique identifier.
// One ID is minted per flash run and threaded through log lines, the
// device lock file and the final report.
func GenerateOperationID() string {
	return ksuid.New().String()
}
