package sandbox

import "github.com/dop251/goja"

// MenuCommand is a command registered through GM_registerMenuCommand.
type MenuCommand struct {
	Name           string `json:"name"`
	AccelKey       string `json:"accel_key,omitempty"`
	AccelModifiers string `json:"accel_modifiers,omitempty"`
	AccessKey      string `json:"access_key,omitempty"`
	Script         string `json:"script"`

	ctx      *Context
	callback goja.Callable
}

// Invoke queues the callback as the registering script's own code. It runs
// on the next Settle of the page.
func (m *MenuCommand) Invoke() error {
	if m.ctx.page.Closed() {
		return ErrPageClosed
	}
	if !m.ctx.page.loop.enqueue(m.ctx.token, func() { m.ctx.call(m.callback) }) {
		return ErrPageClosed
	}
	return nil
}

// Page returns the page the command belongs to.
func (m *MenuCommand) Page() *Page { return m.ctx.page }
