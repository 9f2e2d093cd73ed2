package session

import (
	"fmt"
	"io"

	"github.com/whistler-io/whistler/internal/store"
)

// progressWriter renders readiness progress as plain text: a line per
// status transition, a dot per poll tick within a status.
type progressWriter struct {
	w       io.Writer
	last    store.InstanceStatus
	started bool
}

func newProgressWriter(w io.Writer) *progressWriter {
	return &progressWriter{w: w}
}

func (p *progressWriter) Observe(status store.InstanceStatus) {
	if p.started && status == p.last {
		io.WriteString(p.w, ".")
		return
	}
	if p.started {
		io.WriteString(p.w, "\r\n")
	}
	fmt.Fprintf(p.w, "Instance status: %s ", status)
	p.last = status
	p.started = true
}

// Done terminates the progress line, if any was written.
func (p *progressWriter) Done() {
	if p.started {
		io.WriteString(p.w, "\r\n")
	}
}
