package contentstore

import (
	"errors"

	"github.com/i5heu/snapstore/internal/generation"
)

var (
	ErrSnapshotDisposed = errors.New("contentstore: snapshot disposed")
	ErrNotFound         = errors.New("contentstore: not found")
	ErrEmptyKit         = errors.New("contentstore: kit is empty")
	ErrKitHasChildren   = errors.New("contentstore: kit node cannot have children")
	ErrClosed           = errors.New("contentstore: store closed")

	// ErrRolledBack is returned by the outermost commit when a nested write
	// scope did not complete.
	ErrRolledBack = generation.ErrRolledBack
)

// Reasons a kit is skipped by validation.
const (
	ReasonMissingParent      = "missing_parent"
	ReasonCorruptPath        = "corrupt_path"
	ReasonNoData             = "no_data"
	ReasonMissingContentType = "missing_content_type"
	// ReasonUnpublishedParent marks a published-only kit under an
	// unpublished parent: it would have no visible version.
	ReasonUnpublishedParent = "unpublished_parent"
)
