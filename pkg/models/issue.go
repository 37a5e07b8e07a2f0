package models

import (
	"fmt"
	"time"
)

// OperationType names the step that failed for a data issue.
type OperationType string

const (
	OperationDownload OperationType = "download"
	OperationCreate   OperationType = "create"
	OperationSave     OperationType = "save"
)

// Valid reports whether o is one of the stored operation kinds.
func (o OperationType) Valid() bool {
	switch o {
	case OperationDownload, OperationCreate, OperationSave:
		return true
	}
	return false
}

// ParseOperationType converts a stored value back to an OperationType.
func ParseOperationType(s string) (OperationType, error) {
	o := OperationType(s)
	if !o.Valid() {
		return "", fmt.Errorf("unknown operation type %q", s)
	}
	return o, nil
}

// SPLParsingIssue records a detail document that could not be fully parsed,
// with the raw payload and its structure dump for replay.
// Stored in spl_parsing_issues table.
type SPLParsingIssue struct {
	ID           int64     `json:"id"`
	SPLID        *int64    `json:"spl_id"`
	Error        string    `json:"error"`
	XMLContent   string    `json:"xml_content"`
	XMLStructure string    `json:"xml_structure"`
	CreatedAt    time.Time `json:"created_at"`
}

// SPLDataIssue records a failed download or write for one SPL.
// TableName is nil for download failures.
// Stored in spl_data_issues table.
type SPLDataIssue struct {
	ID            int64         `json:"id"`
	SPLID         *int64        `json:"spl_id"`
	OperationType OperationType `json:"operation_type"`
	TableName     *string       `json:"table_name,omitempty"`
	ErrorMessage  string        `json:"error_message"`
	CreatedAt     time.Time     `json:"created_at"`
}
