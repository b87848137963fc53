package core

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured-logging type threaded through every
// long-lived task and the executor's worker pool.
type Logger = logiface.Logger[*stumpy.Event]

// NewLogger returns a JSON logger writing to w (os.Stderr if nil), one
// line per event, in the teacher's stumpy wiring.
func NewLogger(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
	)
}
