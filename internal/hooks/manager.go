package hooks

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Manager stores hooks per Type, sorted by descending priority.
type Manager struct {
	mu     sync.RWMutex
	hooks  map[Type][]Info
	logger *zap.Logger
}

// NewManager creates an empty Manager. A nil logger disables logging.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		hooks:  make(map[Type][]Info),
		logger: logger.Named("hooks"),
	}
	for _, t := range Types() {
		m.hooks[t] = nil
	}
	return m
}

// Register adds a hook and returns its resolved name. Names are unique per
// Type; a colliding name gets a numeric suffix.
func (m *Manager) Register(r Registration) string {
	if r.Func == nil {
		panic("hooks: Register called with nil Func")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := r.Name
	if name == "" {
		name = funcName(r.Func)
	}
	name = m.uniqueName(r.Type, name)

	list := append(m.hooks[r.Type], Info{
		Name:        name,
		Type:        r.Type,
		Func:        r.Func,
		Priority:    r.Priority,
		Description: r.Description,
	})
	// Stable keeps insertion order among equal priorities.
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority > list[j].Priority
	})
	m.hooks[r.Type] = list

	m.logger.Info("Registered hook",
		zap.String("name", name),
		zap.String("type", string(r.Type)),
		zap.Int("priority", r.Priority),
	)
	return name
}

// RegisterAll registers every entry in order and returns the resolved names.
func (m *Manager) RegisterAll(regs []Registration) []string {
	names := make([]string, 0, len(regs))
	for _, r := range regs {
		names = append(names, m.Register(r))
	}
	return names
}

// Unregister removes the hook with the exact name. Reports whether one was removed.
func (m *Manager) Unregister(t Type, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.hooks[t]
	for i, h := range list {
		if h.Name != name {
			continue
		}
		m.hooks[t] = append(list[:i:i], list[i+1:]...)
		m.logger.Info("Unregistered hook", zap.String("name", name), zap.String("type", string(t)))
		return true
	}
	return false
}

// Hooks returns a copy of the hooks registered for t, in execution order.
func (m *Manager) Hooks(t Type) []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Info(nil), m.hooks[t]...)
}

// Hook looks up a single hook by name.
func (m *Manager) Hook(t Type, name string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.hooks[t] {
		if h.Name == name {
			return h, true
		}
	}
	return Info{}, false
}

// List returns hook names grouped by type.
func (m *Manager) List() map[Type][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[Type][]string, len(m.hooks))
	for t, list := range m.hooks {
		names := make([]string, 0, len(list))
		for _, h := range list {
			names = append(names, h.Name)
		}
		out[t] = names
	}
	return out
}

// Execute runs every hook of type t in priority order and returns the merged
// context. The input context is never modified.
func (m *Manager) Execute(ctx context.Context, t Type, hc Context) Context {
	result := hc.Clone()

	list := m.Hooks(t)
	if len(list) == 0 {
		return result
	}

	m.logger.Debug("Executing hooks", zap.String("type", string(t)), zap.Int("count", len(list)))

	var failed []string
	for _, h := range list {
		out, err := m.invoke(ctx, h, result.Clone())
		if err != nil {
			m.logger.Error("Hook execution failed",
				zap.String("name", h.Name),
				zap.String("type", string(t)),
				zap.Error(err),
			)
			failed = append(failed, h.Name)

			// Error handlers never trigger themselves.
			if t != ErrorHandler {
				m.Execute(ctx, ErrorHandler, Context{
					KeyOriginal:   hc,
					KeyFailedHook: h.Name,
					KeyError:      err.Error(),
					KeyHookType:   string(t),
				})
			}
			continue
		}

		for k, v := range out {
			result[k] = v
		}
		m.logger.Debug("Hook executed successfully", zap.String("name", h.Name), zap.String("type", string(t)))
	}

	if len(failed) > 0 {
		result[KeyErrors] = failed
	}
	return result
}

// invoke calls one hook, converting a panic into an error.
func (m *Manager) invoke(ctx context.Context, h Info, hc Context) (out Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("hook %q panicked: %v", h.Name, r)
		}
	}()
	return h.Func(ctx, hc)
}

// uniqueName must be called with m.mu held.
func (m *Manager) uniqueName(t Type, name string) string {
	taken := func(n string) bool {
		for _, h := range m.hooks[t] {
			if h.Name == n {
				return true
			}
		}
		return false
	}
	if !taken(name) {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s#%d", name, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

func funcName(fn Func) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return "anonymous"
}
