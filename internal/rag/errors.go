package rag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidChunking    = errors.New("invalid chunking parameters")
	ErrIndexNotFound      = errors.New("index not found")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrEmptyQuestion      = errors.New("question is empty")
)

// IndexError reports the chunks of one document that were not indexed.
// Failed holds chunk ordinals in ascending order.
type IndexError struct {
	Index  string
	File   string
	Failed []int
	Total  int
	Err    error
}

func (e *IndexError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, n := range e.Failed {
		ids[i] = fmt.Sprint(n)
	}
	return fmt.Sprintf("index %q file %q: %d/%d chunks not indexed [%s]: %v",
		e.Index, e.File, len(e.Failed), e.Total, strings.Join(ids, ","), e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}
