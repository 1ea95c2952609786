// Package script embeds a Lua runtime for scene scripts. A script registers
// named scenes that drive the configured devices; scenes are triggered over
// the HTTP API or once at startup.
package script

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/dmxd/internal/device"
)

// ErrEngineClosed is returned when the Lua engine is closed
var ErrEngineClosed = fmt.Errorf("script engine closed")

// work is executed on the Lua VM. All Lua execution goes through the work
// queue; the worker goroutine is the only one touching the LState.
type work func(ctx context.Context)

// Engine manages the Lua VM with single-threaded execution.
type Engine struct {
	L       *lua.LState
	manager *device.Manager

	mu     sync.RWMutex
	scenes map[string]*lua.LFunction

	workQueue chan work

	// Shutdown signaling - closing this channel signals senders to stop
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a script engine bound to the device manager.
func New(manager *device.Manager) *Engine {
	e := &Engine{
		L:         lua.NewState(),
		manager:   manager,
		scenes:    make(map[string]*lua.LFunction),
		workQueue: make(chan work, 16),
		closing:   make(chan struct{}),
	}

	e.L.PreloadModule("log", logLoader)
	e.L.PreloadModule("dmx", e.dmxLoader)
	e.L.PreloadModule("scenes", e.scenesLoader)

	return e
}

// LoadScript loads and executes a scene script (must be called before Run).
func (e *Engine) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading scene script")

	if err := e.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute scene script: %w", err)
	}

	log.Info().Int("scenes", len(e.Scenes())).Msg("Scene script loaded")
	return nil
}

// Run starts the Lua worker goroutine. Exits when the context is cancelled
// or the engine is closed.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.closing:
			return
		case w := <-e.workQueue:
			e.execute(ctx, w)
		}
	}
}

// execute runs a single work item with panic recovery.
func (e *Engine) execute(ctx context.Context, w work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("Scene work panicked - worker continuing")
		}
	}()
	e.L.SetContext(ctx)
	w(ctx)
}

// RunScene executes a registered scene on the Lua worker and waits for the
// result.
func (e *Engine) RunScene(ctx context.Context, name string) error {
	e.mu.RLock()
	fn, ok := e.scenes[name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown scene %q", name)
	}

	done := make(chan error, 1)
	w := work(func(context.Context) {
		err := e.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
		if err != nil {
			err = fmt.Errorf("scene %q failed: %w", name, err)
		}
		done <- err
	})

	select {
	case <-e.closing:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	case e.workQueue <- w:
	}

	select {
	case <-e.closing:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Scenes returns the registered scene names, sorted.
func (e *Engine) Scenes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.scenes))
	for name := range e.scenes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close signals the engine to stop and closes the Lua state.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.closing)
	})
	e.L.Close()
}

// scenesLoader provides the scenes module: scenes.register(name, fn).
func (e *Engine) scenesLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "register", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		fn := L.CheckFunction(2)

		e.mu.Lock()
		e.scenes[name] = fn
		e.mu.Unlock()

		log.Debug().Str("scene", name).Msg("Scene registered")
		return 0
	}))
	L.Push(mod)
	return 1
}
