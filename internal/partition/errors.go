package partition

import "errors"

var (
	// ErrPartitionNotFound indicates the partition was never created or was dropped.
	ErrPartitionNotFound = errors.New("partition not found")

	// ErrPartitionExists indicates CreatePartition was called twice for a key.
	ErrPartitionExists = errors.New("partition already exists")

	// ErrInvalidDocument indicates a document failed validation on admission.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrTenantMismatch indicates a document's tenant does not fit the partition.
	ErrTenantMismatch = errors.New("document tenant does not match partition")

	// ErrDocumentNotFound indicates no document with the id exists in the partition.
	ErrDocumentNotFound = errors.New("document not found")
)
