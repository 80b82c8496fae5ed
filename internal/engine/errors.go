package engine

import (
	"errors"
	"fmt"
	"strings"
)

// RuntimeError represents an error detected while planning, running or
// guarding a publish.
//
// Runtime errors include:
//   - Folder locked: another pull or publish holds the folder
//   - Structural: folder or record not found, cyclic parent relationships
//   - Invalid mapping: the folder's field map fails validation
//   - Reserved field: imported data uses a reserved meta-field name
//
// RuntimeError includes structured fields for diagnostics and recovery.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// PipelineID identifies the affected pipeline, if any.
	PipelineID string

	// FolderID identifies the affected folder, if any.
	FolderID string

	// FilePath identifies the affected record, if any.
	FilePath string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeFolderLocked indicates a folder is engaged in another sync or publish.
	ErrCodeFolderLocked RuntimeErrorCode = "FOLDER_LOCKED"

	// ErrCodeFolderNotFound indicates a referenced folder doesn't exist.
	ErrCodeFolderNotFound RuntimeErrorCode = "FOLDER_NOT_FOUND"

	// ErrCodeRecordNotFound indicates a referenced local file doesn't exist.
	ErrCodeRecordNotFound RuntimeErrorCode = "RECORD_NOT_FOUND"

	// ErrCodeFolderCycle indicates cyclic or inconsistent parent relationships.
	ErrCodeFolderCycle RuntimeErrorCode = "FOLDER_CYCLE"

	// ErrCodeInvalidMapping indicates blocking mapping errors on a folder.
	ErrCodeInvalidMapping RuntimeErrorCode = "INVALID_MAPPING"

	// ErrCodePipelineNotFound indicates a pipeline doesn't exist in the workbook.
	ErrCodePipelineNotFound RuntimeErrorCode = "PIPELINE_NOT_FOUND"

	// ErrCodePipelineBusy indicates the pipeline is already queued or running.
	ErrCodePipelineBusy RuntimeErrorCode = "PIPELINE_BUSY"

	// ErrCodeReservedField indicates user data carries reserved meta-field names.
	ErrCodeReservedField RuntimeErrorCode = "RESERVED_FIELD"

	// ErrCodeInvalidScope indicates a publish scope that cannot be compiled.
	ErrCodeInvalidScope RuntimeErrorCode = "INVALID_SCOPE"

	// ErrCodeStopped indicates the engine no longer accepts work.
	ErrCodeStopped RuntimeErrorCode = "ENGINE_STOPPED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	var ctx []string
	if e.PipelineID != "" {
		ctx = append(ctx, "pipeline="+e.PipelineID)
	}
	if e.FolderID != "" {
		ctx = append(ctx, "folder="+e.FolderID)
	}
	if e.FilePath != "" {
		ctx = append(ctx, "file="+e.FilePath)
	}
	if len(ctx) > 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(ctx, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the code of a RuntimeError anywhere in err's chain.
func CodeOf(err error) (RuntimeErrorCode, bool) {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code, true
	}
	return "", false
}

// IsLockedError returns true if the error is a folder lock rejection.
// Uses errors.As to handle wrapped errors.
func IsLockedError(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeFolderLocked
}

// IsNotFoundError returns true for missing folders, records or pipelines.
func IsNotFoundError(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch code {
	case ErrCodeFolderNotFound, ErrCodeRecordNotFound, ErrCodePipelineNotFound:
		return true
	}
	return false
}

// IsStructuralError returns true for planning-time structural errors,
// which are fatal to the planning call only.
func IsStructuralError(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch code {
	case ErrCodeFolderNotFound, ErrCodeRecordNotFound, ErrCodeFolderCycle:
		return true
	}
	return false
}

// NewLockedError creates a RuntimeError for a folder held by another run.
func NewLockedError(folderID, holder string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeFolderLocked,
		Message:  "sync in progress on folder",
		FolderID: folderID,
		Details:  map[string]string{"holder": holder},
	}
}

// NewFolderNotFoundError creates a RuntimeError for an unknown folder.
func NewFolderNotFoundError(folderID string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeFolderNotFound,
		Message:  "folder not found",
		FolderID: folderID,
	}
}

// NewRecordNotFoundError creates a RuntimeError for an unknown local file.
func NewRecordNotFoundError(folderID, filePath string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeRecordNotFound,
		Message:  "record not found",
		FolderID: folderID,
		FilePath: filePath,
	}
}

// NewPipelineNotFoundError creates a RuntimeError for an unknown pipeline.
func NewPipelineNotFoundError(pipelineID string) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodePipelineNotFound,
		Message:    "pipeline not found",
		PipelineID: pipelineID,
	}
}
