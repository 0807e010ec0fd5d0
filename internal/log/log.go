// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

// Package log provides the structured logger and audit-trail helpers
// shared by every ckm component. Plaintext key material, derived keys,
// and passphrases must never be passed to any function in this package.
package log

import (
	"encoding/json"
	stdlog "log"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/clusterkm/ckm/internal/config"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
)

// Log returns the process-wide JSON structured logger, initializing it
// on first use from the configured log level.
func Log() *slog.Logger {
	loggerOnce.Do(func() {
		opts := &slog.HandlerOptions{Level: config.LogLevel()}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	})
	return logger
}

// Fatal logs msg and terminates the process with exit code 1.
func Fatal(msg string) {
	stdlog.Fatal(msg)
}

// FatalF logs a formatted message and terminates the process with exit
// code 1.
func FatalF(format string, args ...any) {
	stdlog.Fatalf(format, args...)
}

// AuditAction names a lifecycle transition the cluster key manager
// performed.
type AuditAction string

const (
	AuditBootstrap AuditAction = "bootstrap"
	AuditStartup   AuditAction = "startup"
	AuditRotate    AuditAction = "rotate"
	AuditRecover   AuditAction = "recover"
)

// AuditState is the outcome of an audited action.
type AuditState string

const (
	AuditSuccess AuditState = "success"
	AuditErrored AuditState = "error"
)

// NewTrailID generates a fresh identifier for correlating every audit
// entry emitted by a single lifecycle operation.
func NewTrailID() string {
	return uuid.NewString()
}

// AuditEntry is a single audit record. It never carries passphrases,
// derived keys, or plaintext/ciphertext key bytes.
type AuditEntry struct {
	TrailID string      `json:"trail_id"`
	Action  AuditAction `json:"action"`
	State   AuditState  `json:"state"`
	Detail  string      `json:"detail,omitempty"`
	Err     string      `json:"err,omitempty"`
}

// Audit records an audit entry as a single JSON line on the standard
// logger. If marshaling fails, the failure is logged but execution
// continues, matching the teacher's best-effort audit discipline. The
// entry is logged at Info level, so it is not emitted when the
// configured level is WARN (the default) or ERROR.
func Audit(entry AuditEntry) {
	body, err := json.Marshal(entry)
	if err != nil {
		Log().Error("Audit", "message", "failed to marshal audit entry",
			"err", err.Error())
		return
	}
	Log().Info("audit", "entry", string(body))
}
