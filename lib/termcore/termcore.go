/*
Copyright 2022 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package termcore wraps an ANSI/VT terminal parser (grid, cursor, scrollback,
// selection) behind the operations the tab bridge and UI need, regardless of
// whether the tab is bound to a local PTY or a remote transport.
package termcore

import (
	"bytes"
	"strings"
	"sync"

	"github.com/hinshun/vt10x"
)

// ModeFlags mirrors the subset of VT100/xterm modes that change how
// keystrokes are translated to escape sequences.
type ModeFlags struct {
	AppCursor bool
	AltScreen bool
	SGRMouse  bool
}

// EventKind discriminates the events PollEvents delivers.
type EventKind int

const (
	EventWakeup EventKind = iota
	EventTitleChanged
	EventBell
	EventExit
	EventClipboardStore
)

// Event is a single parser-driven notification.
type Event struct {
	Kind  EventKind
	Title string // set for EventTitleChanged
	Data  string // set for EventClipboardStore
}

const defaultScrollback = 10000

// Core owns a VT state machine and mediates concurrent access from the
// transport's read loop (WriteToPTY) and the UI/input path (Write, Resize).
type Core struct {
	mu   sync.Mutex
	vt   vt10x.Terminal
	cols int
	rows int

	writeSink func([]byte) (int, error) // PTY/transport write sink, set by the tab bridge

	events    chan Event
	selStart  selPoint
	selEnd    selPoint
	selecting bool

	history      []string // lines that have scrolled off the top, oldest first
	scrollOffset int      // 0 == live view; positive scrolls back into history
}

type selPoint struct {
	row, col int
}

// New constructs a terminal core with the given initial grid size.
func New(cols, rows int) *Core {
	vt := vt10x.New(vt10x.WithSize(cols, rows))
	return &Core{
		vt:     vt,
		cols:   cols,
		rows:   rows,
		events: make(chan Event, 256),
	}
}

// SetWriteSink wires the destination for keyboard input (PTY master or a
// remote transport's Write).
func (c *Core) SetWriteSink(sink func([]byte) (int, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeSink = sink
}

// WriteToPTY feeds bytes from the transport into the parser. Safe to call
// concurrently with Write/Resize from any goroutine.
func (c *Core) WriteToPTY(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Each line feed is written on its own and diffed against the grid just
	// before it, so a scroll is seen as a pure one-row shift even when the
	// same write also filled in the bottom line.
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			_, _ = c.vt.Write(p)
			break
		}
		if i > 0 {
			_, _ = c.vt.Write(p[:i])
		}
		before := c.snapshotRowsLocked()
		_, _ = c.vt.Write(p[i : i+1])
		c.captureScrollLocked(before, c.snapshotRowsLocked())
		p = p[i+1:]
	}
	c.pushEventLocked(Event{Kind: EventWakeup})
}

// snapshotRowsLocked renders the current grid as right-trimmed text rows.
// Caller must hold c.mu.
func (c *Core) snapshotRowsLocked() []string {
	c.vt.Lock()
	defer c.vt.Unlock()
	rows := make([]string, c.rows)
	for y := 0; y < c.rows; y++ {
		var sb strings.Builder
		for x := 0; x < c.cols; x++ {
			glyph := c.vt.CellAt(x, y)
			if glyph.Char == 0 {
				sb.WriteRune(' ')
			} else {
				sb.WriteRune(glyph.Char)
			}
		}
		rows[y] = strings.TrimRight(sb.String(), " ")
	}
	return rows
}

// captureScrollLocked detects a one-line upward scroll by checking whether
// the new grid equals the old grid shifted up by one row, and if so files
// the row that scrolled away into history. vt10x has no history buffer of
// its own (it only tracks the live screen), so termcore keeps one. Caller
// must hold c.mu.
func (c *Core) captureScrollLocked(before, after []string) {
	n := len(before)
	if n == 0 || n != len(after) {
		return
	}
	for i := 0; i < n-1; i++ {
		if after[i] != before[i+1] {
			return
		}
	}
	line := before[0]
	if line == "" {
		return
	}
	c.history = append(c.history, line)
	if len(c.history) > defaultScrollback {
		c.history = c.history[len(c.history)-defaultScrollback:]
	}
	c.scrollOffset = 0
}

// Write is the keyboard-input sink: bytes are forwarded to whatever sink was
// configured (local PTY master or remote transport).
func (c *Core) Write(p []byte) (int, error) {
	c.mu.Lock()
	sink := c.writeSink
	c.mu.Unlock()
	if sink == nil {
		return 0, nil
	}
	return sink(p)
}

// Resize reshapes the grid. Propagation to the transport (TIOCSWINSZ /
// window-change / size frame / k8s resize channel) is the tab bridge's job,
// not this package's — Core only owns the parser's view of size.
func (c *Core) Resize(cols, rows int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vt.Resize(cols, rows)
	c.cols, c.rows = cols, rows
}

// Mode reports the parser's current mode flags for keystroke translation.
func (c *Core) Mode() ModeFlags {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vt.Lock()
	defer c.vt.Unlock()
	mode := c.vt.Mode()
	return ModeFlags{
		AppCursor: mode&vt10x.ModeAppCursor != 0,
		AltScreen: mode&vt10x.ModeAltScreen != 0,
		SGRMouse:  mode&vt10x.ModeMouseSGR != 0,
	}
}

// CursorPosition returns the 0-indexed (col, row) of the cursor.
func (c *Core) CursorPosition() (col, row int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vt.Lock()
	defer c.vt.Unlock()
	cur := c.vt.Cursor()
	return cur.X, cur.Y
}

// Columns and ScreenLines expose the grid dimensions.
func (c *Core) Columns() int { c.mu.Lock(); defer c.mu.Unlock(); return c.cols }
func (c *Core) ScreenLines() int { c.mu.Lock(); defer c.mu.Unlock(); return c.rows }

// StartSelection begins a text selection at (col, row).
func (c *Core) StartSelection(col, row int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selecting = true
	c.selStart = selPoint{row: row, col: col}
	c.selEnd = c.selStart
}

// UpdateSelection extends the active selection to (col, row).
func (c *Core) UpdateSelection(col, row int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.selecting {
		return
	}
	c.selEnd = selPoint{row: row, col: col}
}

// ClearSelection discards the active selection.
func (c *Core) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selecting = false
	c.selStart, c.selEnd = selPoint{}, selPoint{}
}

// HasSelection reports whether a selection is active.
func (c *Core) HasSelection() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selecting
}

// SelectedText renders the active selection's cell contents as a string.
func (c *Core) SelectedText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.selecting {
		return ""
	}
	start, end := c.selStart, c.selEnd
	if end.row < start.row || (end.row == start.row && end.col < start.col) {
		start, end = end, start
	}

	c.vt.Lock()
	defer c.vt.Unlock()

	var out []rune
	for row := start.row; row <= end.row; row++ {
		colStart, colEnd := 0, c.cols-1
		if row == start.row {
			colStart = start.col
		}
		if row == end.row {
			colEnd = end.col
		}
		for col := colStart; col <= colEnd && col < c.cols; col++ {
			glyph := c.vt.CellAt(col, row)
			if glyph.Char == 0 {
				out = append(out, ' ')
			} else {
				out = append(out, glyph.Char)
			}
		}
		if row != end.row {
			out = append(out, '\n')
		}
	}
	return string(out)
}

// Scroll moves the scrollback view by delta lines: positive scrolls back
// into history, negative scrolls toward the live screen. The offset clamps
// to [0, len(history)]; new output resets it back to the live view.
func (c *Core) Scroll(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scrollOffset += delta
	if c.scrollOffset < 0 {
		c.scrollOffset = 0
	}
	if max := len(c.history); c.scrollOffset > max {
		c.scrollOffset = max
	}
}

// ScrollOffset reports how many lines back into history the view currently
// sits, 0 meaning the live screen.
func (c *Core) ScrollOffset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrollOffset
}

// History returns the captured scrollback lines, oldest first.
func (c *Core) History() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.history))
	copy(out, c.history)
	return out
}

// PollEvents drains pending parser events without blocking.
func (c *Core) PollEvents() []Event {
	var out []Event
	for {
		select {
		case e := <-c.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func (c *Core) pushEventLocked(e Event) {
	select {
	case c.events <- e:
	default:
		// Back-pressure policy: a Wakeup (redundant) is dropped rather than
		// block; any other event discards the oldest queued event, whatever
		// its kind, to make room for itself.
		if e.Kind != EventWakeup {
			select {
			case <-c.events:
			default:
			}
			c.events <- e
		}
	}
}

// ScrollbackLines is the configured scrollback depth, surfaced for C12.
func ScrollbackLines() int { return defaultScrollback }
