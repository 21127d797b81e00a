// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"sync"

	"github.com/varkeep/varkeep/pkg/varpkg"
)

// LoadContext is the caller-maintained stack of packages being loaded. A
// "SELF" reference resolves to the top of the stack. The zero value is an
// empty stack; a nil *LoadContext is also empty.
type LoadContext struct {
	mu    sync.Mutex
	stack []varpkg.UID
}

// NewLoadContext returns a context with uids pushed in order.
func NewLoadContext(uids ...varpkg.UID) *LoadContext {
	return &LoadContext{stack: append([]varpkg.UID(nil), uids...)}
}

// Push makes uid the current package.
func (c *LoadContext) Push(uid varpkg.UID) {
	c.mu.Lock()
	c.stack = append(c.stack, uid)
	c.mu.Unlock()
}

// Pop removes and returns the current package, or "" when empty.
func (c *LoadContext) Pop() varpkg.UID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stack) == 0 {
		return ""
	}
	uid := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return uid
}

// Current returns the top of the stack, or "" when empty.
func (c *LoadContext) Current() varpkg.UID {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stack) == 0 {
		return ""
	}
	return c.stack[len(c.stack)-1]
}
