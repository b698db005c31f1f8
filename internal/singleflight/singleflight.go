// Package singleflight provides duplicate call suppression: concurrent
// callers of the same key share one in-flight execution and all observe the
// same result. The token refresh path relies on this to guarantee that N
// concurrent demands for a fresh token trigger exactly one network call.
package singleflight

import "sync"

// Group manages the set of in-flight calls keyed by string.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

type call struct {
	wg  sync.WaitGroup
	val interface{}
	err error
}

// New creates an empty Group.
func New() *Group {
	return &Group{m: make(map[string]*call)}
}

// Do executes fn, making sure only one execution for key is in flight at a
// time. Duplicate callers block until the owner finishes and receive the
// owner's result. The key is released as soon as the call completes, so a
// later call starts a fresh execution.
func (g *Group) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err
	}

	c := &call{}
	c.wg.Add(1)
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()

	c.wg.Done()
	return c.val, c.err
}

// Forget drops any in-flight record for key. Callers already waiting keep
// waiting on the old call; new callers start their own execution.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
