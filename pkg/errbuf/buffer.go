// Package errbuf collects the diagnostics gathered while an operation is
// attempted. A Buffer is append-only and becomes immutable once sealed; a
// sealed buffer is what gets attached to a failure event.
package errbuf

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrSealed = errors.New("error buffer is sealed")

// Entry is one diagnostic. Detail holds the stack trace when the cause carried one.
type Entry struct {
	Time    time.Time `json:"time"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`

	cause error
}

// Unwrap returns the error the entry was built from, if any.
func (e Entry) Unwrap() error {
	return e.cause
}

func (e Entry) String() string {
	if e.Stage == "" {
		return e.Message
	}
	return e.Stage + ": " + e.Message
}

type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	sealed  bool
}

func New() *Buffer {
	return &Buffer{}
}

// Add appends err under the given stage. Nil errors are ignored.
func (b *Buffer) Add(stage string, err error) error {
	if err == nil {
		return nil
	}

	entry := Entry{
		Time:    time.Now(),
		Stage:   stage,
		Message: err.Error(),
		cause:   err,
	}
	if _, ok := err.(interface{ StackTrace() errors.StackTrace }); ok {
		entry.Detail = fmt.Sprintf("%+v", err)
	}

	return b.append(entry)
}

// Addf appends a formatted message with a stack trace captured at the call site.
func (b *Buffer) Addf(stage, format string, args ...any) error {
	err := errors.Errorf(format, args...)
	return b.append(Entry{
		Time:    time.Now(),
		Stage:   stage,
		Message: err.Error(),
		Detail:  fmt.Sprintf("%+v", err),
		cause:   err,
	})
}

func (b *Buffer) append(entry Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		return ErrSealed
	}
	b.entries = append(b.entries, entry)
	return nil
}

// Seal freezes the buffer and returns it, so a caller can hand it off in one
// expression.
func (b *Buffer) Seal() *Buffer {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
	return b
}

func (b *Buffer) Sealed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sealed
}

func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Entries returns a copy of the entries in insertion order.
func (b *Buffer) Entries() []Entry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Err returns the buffer as an error, or nil when it is empty.
func (b *Buffer) Err() error {
	if b.Len() == 0 {
		return nil
	}
	return b
}

func (b *Buffer) Error() string {
	entries := b.Entries()
	msgs := make([]string, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}

// Is reports whether any entry wraps target.
func (b *Buffer) Is(target error) bool {
	for _, e := range b.Entries() {
		if e.cause != nil && errors.Is(e.cause, target) {
			return true
		}
	}
	return false
}
