/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package moduletbl implements the named module container: a keyed set of
// modules, each exposing a small table of named handler callbacks that the
// resource-rewrite step (internal/dispatcher) can bind a client to.
package moduletbl

import (
	"fmt"
	"sync"
)

// HandlerFunc is a module's client-handler callback.
type HandlerFunc func(ctx HandlerContext) error

// HandlerContext is the minimal context a handler needs; concrete fields
// are filled in by internal/dispatcher from the live Client/Connection.
type HandlerContext struct {
	URI     string
	Mount   string
	Extra   map[string]any
}

// Module holds a name, user data, and a small table of named handlers.
type Module struct {
	Name     string
	UserData any
	Free     func(any)

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewModule creates an empty Module.
func NewModule(name string, userdata any, free func(any)) *Module {
	return &Module{Name: name, UserData: userdata, Free: free, handlers: make(map[string]HandlerFunc)}
}

// AddHandler registers a named handler callback.
func (m *Module) AddHandler(name string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = fn
}

// Handler looks up a handler by name.
func (m *Module) Handler(name string) (HandlerFunc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.handlers[name]
	return fn, ok
}

// Close runs the module's free callback, if any.
func (m *Module) Close() {
	if m.Free != nil {
		m.Free(m.UserData)
	}
}

// Container is a keyed registry of modules.
type Container struct {
	mu      sync.RWMutex
	modules map[string]*Module
}

// NewContainer creates an empty Container.
func NewContainer() *Container {
	return &Container{modules: make(map[string]*Module)}
}

// Register adds a module under its own name, replacing any prior module
// with the same name (the old module's Close is run first).
func (c *Container) Register(m *Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.modules[m.Name]; ok {
		old.Close()
	}
	c.modules[m.Name] = m
}

// Get resolves a module by name.
func (c *Container) Get(name string) (*Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[name]
	return m, ok
}

// Resolve looks up a named handler of a named module — the call
// _handle_resources makes once a resource-rewrite rule binds a client to
// (module, handler).
func (c *Container) Resolve(moduleName, handlerName string) (HandlerFunc, error) {
	m, ok := c.Get(moduleName)
	if !ok {
		return nil, fmt.Errorf("moduletbl: unknown module %q", moduleName)
	}
	fn, ok := m.Handler(handlerName)
	if !ok {
		return nil, fmt.Errorf("moduletbl: module %q has no handler %q", moduleName, handlerName)
	}
	return fn, nil
}
