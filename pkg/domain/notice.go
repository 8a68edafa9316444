package domain

import (
	"context"
	"time"
)

// NoticeKind classifies user-facing notices. The remediation differs per kind.
type NoticeKind string

const (
	// NoticeCorruption means a document could not be parsed; it was backed up and defaults restored.
	NoticeCorruption NoticeKind = "corruption"
	// NoticeStorageFailure means the backend failed; the user should check storage hardware.
	NoticeStorageFailure NoticeKind = "storage_failure"
	// NoticeShutdownSaveFailed means the final save before exit did not land.
	NoticeShutdownSaveFailed NoticeKind = "shutdown_save_failed"
)

// Severity orders notices. Critical notices are meant to be shown in a blocking dialog.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notice is a diagnostic message suitable for surfacing to the end user.
type Notice struct {
	ID       string     `json:"id"`
	Catalog  string     `json:"catalog"`
	Kind     NoticeKind `json:"kind"`
	Severity Severity   `json:"severity"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	Backup   string     `json:"backup,omitempty"`
	Error    string     `json:"error,omitempty"`
	At       time.Time  `json:"at"`
}

// Notifier receives notices. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}
