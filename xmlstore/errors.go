package xmlstore

import "errors"

var (
	// ErrFileNotFound is returned by Open when the document doesn't
	// exist and Config.Create is false
	ErrFileNotFound = errors.New("could not find file for reading")

	// ErrNoMeta reports a document without a meta section under the root
	ErrNoMeta = errors.New("meta section not found")

	// ErrNoContainer reports a document without the schema's data container
	ErrNoContainer = errors.New("data container not found")

	// ErrNoParent reports a field match that doesn't belong to a record.
	// It means the document doesn't have the structure the schema describes.
	ErrNoParent = errors.New("could not find the parent record")

	ErrInvalidName    = errors.New("invalid xml name")
	ErrInvalidComment = errors.New("invalid xml comment")
	ErrInvalidValue   = errors.New("invalid record value")

	ErrClosed = errors.New("store is closed")
)
