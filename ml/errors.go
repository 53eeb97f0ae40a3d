package ml

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrModelNotTrained        = errors.New("model not trained")
	ErrSchemaMismatch         = errors.New("schema mismatch")
	ErrUnseenCategory         = errors.New("unseen category")
	ErrUnsupportedProblemType = errors.New("unsupported problem type")
	ErrPersistence            = errors.New("persistence failure")
	ErrInvalidDataset         = errors.New("invalid dataset")
)

// MissingFeatureError lists trained feature columns absent from an inference table.
type MissingFeatureError struct {
	Missing []string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("missing features: [%s]", strings.Join(e.Missing, ", "))
}

func (e *MissingFeatureError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

// UnseenCategoryError is returned when an inference value has no training code.
type UnseenCategoryError struct {
	Column string
	Value  string
}

func (e *UnseenCategoryError) Error() string {
	return fmt.Sprintf("column %q contains previously unseen label %q", e.Column, e.Value)
}

func (e *UnseenCategoryError) Is(target error) bool {
	return target == ErrUnseenCategory
}

// PersistenceError reports a failed metadata or snapshot write or read. When it
// is returned from Train the in-memory model has still been replaced.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
