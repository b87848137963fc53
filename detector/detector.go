// Package detector defines the pluggable code-recognizer boundary: a
// frame source, a per-frame recognition result, canonical-key
// normalization, and the duplicate-suppression rule the ingester applies
// to each result's canonical key.
package detector

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Result is one recognized code, at most one per frame.
type Result struct {
	Raw    string // original string, for logging
	Source string // tag of the recognizer branch that produced it
}

// Detector returns at most one Result per call, or (Result{}, false) if the
// frame held nothing recognizable. Determinism within a frame is not
// required of implementations; duplicate suppression is layered on top
// by Dedup.
type Detector interface {
	Scan(frame []byte) (Result, bool)
}

// Camera is a pluggable frame source. The real camera binding is out of
// scope; MockCamera is a replayable test double.
type Camera interface {
	NextFrame(ctx context.Context) ([]byte, error)
}

// MockCamera yields frames from a fixed, replayable slice, useful for
// deterministic tests of the ingester pipeline.
type MockCamera struct {
	Frames [][]byte
	idx    int
}

func (c *MockCamera) NextFrame(ctx context.Context) ([]byte, error) {
	if c.idx >= len(c.Frames) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f := c.Frames[c.idx]
	c.idx++
	return f, nil
}

var nonAlnum = regexp.MustCompile(`[^A-Z0-9]`)
var loPrefix = regexp.MustCompile(`^(LOAI|LO)+`)

// Canon applies the canonical-key normalization used to match recognized
// codes against lane ids: strip diacritics (NFKD, drop combining marks),
// uppercase, strip everything outside [A-Z0-9], then strip leading runs
// of "LOAI" or "LO".
func Canon(s string) string {
	s = strings.TrimSpace(s)
	s = stripAccents(s)
	s = strings.ToUpper(s)
	s = nonAlnum.ReplaceAllString(s, "")
	s = loPrefix.ReplaceAllString(s, "")
	return s
}

func stripAccents(s string) string {
	var b strings.Builder
	iter := norm.NFKD.String(s)
	for _, r := range iter {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dedupWindow is the minimum gap before the same canonical key is
// accepted again; a different key is always accepted immediately.
const dedupWindow = 3 * time.Second

// Dedup applies the 3-second same-key suppression rule to canonical keys,
// one Accept call per recognized result: an identical
// canonical key seen again within the window is dropped, compensating
// for the camera producing the same code across many consecutive frames.
type Dedup struct {
	lastKey  string
	lastTime time.Time
	now      func() time.Time
}

// NewDedup returns a Dedup using wall-clock time.
func NewDedup() *Dedup {
	return &Dedup{now: time.Now}
}

// NewDedupWithClock returns a Dedup driven by now, for deterministic tests.
func NewDedupWithClock(now func() time.Time) *Dedup {
	return &Dedup{now: now}
}

// Accept reports whether key should be forwarded: true if it differs from
// the previously accepted key, or if more than the dedup window has
// elapsed since that prior acceptance. On acceptance, it records key and
// the current time.
func (d *Dedup) Accept(key string) bool {
	now := d.now()
	if key != d.lastKey || now.Sub(d.lastTime) > dedupWindow {
		d.lastKey = key
		d.lastTime = now
		return true
	}
	return false
}
