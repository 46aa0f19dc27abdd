package errors

import (
	"fmt"
	"time"
)

// Error types for the testmap synchronization engine
type ErrorType string

const (
	// File errors
	ErrorTypeFileNotFound ErrorType = "file_not_found"
	ErrorTypeFileTooLarge ErrorType = "file_too_large"

	// Source map errors
	ErrorTypeSourceMap ErrorType = "sourcemap"

	// Internal errors
	ErrorTypeInternal ErrorType = "internal"
)

// SyncError represents an error during tree synchronization
type SyncError struct {
	Type       ErrorType
	FilePath   string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewSyncError creates a new synchronization error with context
func NewSyncError(op string, err error) *SyncError {
	return &SyncError{
		Type:       ErrorTypeInternal,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithType sets the error classification
func (e *SyncError) WithType(t ErrorType) *SyncError {
	e.Type = t
	return e
}

// WithFile adds file information to the error
func (e *SyncError) WithFile(path string) *SyncError {
	e.FilePath = path
	return e
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.FilePath != "" {
		return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Operation, e.FilePath, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Type, e.Operation, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *SyncError) Unwrap() error {
	return e.Underlying
}

// ConfigError represents a configuration load or validation failure.
// Configuration failure is the only error class that is fatal to the
// whole tree; everything else stays local to one file or node.
type ConfigError struct {
	Path       string
	Underlying error
}

// NewConfigError creates a new configuration error
func NewConfigError(path string, err error) *ConfigError {
	return &ConfigError{Path: path, Underlying: err}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %v", e.Path, e.Underlying)
	}
	return fmt.Sprintf("config: %v", e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}
