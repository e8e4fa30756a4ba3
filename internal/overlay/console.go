package overlay

import (
	"bytes"
	"fmt"

	"github.com/luaconsole/overlay/internal/logging"
)

const (
	consoleTitle = "Lua Console"
	logTitle     = "Log"
)

type console struct {
	editor    []byte
	runOnce   bool
	immediate bool
	status    string
}

func newConsole(capacity int) *console {
	return &console{editor: make([]byte, capacity), runOnce: true}
}

// text is the editor contents up to the first NUL.
func (c *console) text() string {
	if i := bytes.IndexByte(c.editor, 0); i >= 0 {
		return string(c.editor[:i])
	}
	return string(c.editor)
}

func (c *console) setText(s string) {
	clear(c.editor)
	// keep one byte for the terminator
	copy(c.editor[:len(c.editor)-1], s)
}

func (c *console) draw(r *Runtime) {
	fe := r.fe
	if fe.Begin(consoleTitle) {
		fe.InputMultiline("##source", c.editor)

		fe.Checkbox("Run once", &c.runOnce)
		fe.SameLine()
		if fe.Button("Execute") {
			c.execute(r)
		}

		fe.Checkbox("Immediate", &c.immediate)
		fe.SameLine()
		if fe.Button("Add to init") {
			c.addInit(r)
		}
		fe.SameLine()
		if fe.Button("Clear repeating") {
			n := r.scripts.ClearRepeating()
			c.status = fmt.Sprintf("cleared %d repeating", n)
		}

		fe.Separator()
		update, init := r.scripts.Counts()
		fe.Text(fmt.Sprintf("update tasks: %d  init tasks: %d", update, init))
		if c.status != "" {
			fe.Text(c.status)
		}
		if r.opts.Status != nil {
			for _, line := range r.opts.Status() {
				fe.Text(line)
			}
		}
	}
	fe.End()
}

func (c *console) execute(r *Runtime) {
	id, err := r.scripts.EnqueueUpdateTask(c.text(), c.runOnce)
	if err != nil {
		c.status = err.Error()
		log.Warn("execute rejected", logging.KeyError, err.Error())
		return
	}
	c.status = "queued " + id
}

func (c *console) addInit(r *Runtime) {
	id, err := r.scripts.EnqueueInitTask(c.text(), c.immediate)
	if err != nil {
		c.status = err.Error()
		log.Warn("add to init rejected", logging.KeyError, err.Error())
		return
	}
	c.status = "queued " + id
}

// drawLog renders the ring. The view follows new lines only when it was
// already scrolled to the bottom.
func (r *Runtime) drawLog() {
	fe := r.fe
	if fe.Begin(logTitle) {
		if fe.Button("Clear") {
			r.logs.Clear()
		}
		fe.SameLine()
		fe.Text(fmt.Sprintf("%d lines", r.logs.Len()))
		fe.Separator()
		if fe.BeginChild("##scroll") {
			for _, line := range r.logs.Snapshot() {
				fe.Text(line)
			}
			if y, max := fe.ScrollState(); y >= max {
				fe.ScrollToBottom()
			}
		}
		fe.EndChild()
	}
	fe.End()
}
