// Package diag is the allocator's low-level error channel. Messages go to a
// process-wide destination (stderr by default) and are never propagated as
// errors: a memory allocator cannot assume it is safe to construct rich error
// values while reporting that allocation itself is broken.
package diag

import (
	"fmt"
	"io"
	"os"
	"sync"
)

const prefix = "<mallockit>: "

var (
	mu  sync.Mutex
	dst io.Writer = os.Stderr
)

// SetWriter redirects diagnostic output. Passing nil restores stderr.
// Intended for tests and for embedders that capture allocator noise.
func SetWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	dst = w
}

// Write emits a single diagnostic line. The message should be a plain,
// preformatted string; Write itself performs no formatting.
func Write(msg string) {
	mu.Lock()
	defer mu.Unlock()
	io.WriteString(dst, prefix)
	io.WriteString(dst, msg)
	io.WriteString(dst, "\n")
}

// Writef emits a formatted diagnostic line. Only used on cold paths
// (configuration errors, boot failures) where formatting may allocate.
func Writef(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(dst, prefix+format+"\n", args...)
}
