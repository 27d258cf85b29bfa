package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/codereef/reef/internal/debug"
	"github.com/codereef/reef/internal/types"
)

// BindingsFileName is the per-project bindings file, relative to the project
// root.
const BindingsFileName = ".reef/bindings.yaml"

type bindingsFile struct {
	Bindings map[string]types.Binding `yaml:"bindings"`
}

// Bindings resolves local scope ids to their server binding. It is backed by
// a yaml file and can hot-reload when the file changes.
type Bindings struct {
	path string

	mu sync.RWMutex
	m  map[string]types.Binding
}

// LoadBindings reads the bindings file at path. A missing file is not an
// error: it yields an empty resolver (every scope unbound).
func LoadBindings(path string) (*Bindings, error) {
	b := &Bindings{path: path, m: make(map[string]types.Binding)}
	if err := b.reload(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bindings) reload() error {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		b.mu.Lock()
		b.m = make(map[string]types.Binding)
		b.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading bindings: %w", err)
	}
	var file bindingsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", b.path, err)
	}
	m := file.Bindings
	if m == nil {
		m = make(map[string]types.Binding)
	}
	for scope, binding := range m {
		if binding.ConnectionID == "" || binding.ProjectKey == "" {
			return fmt.Errorf("binding for scope %q is incomplete", scope)
		}
	}
	b.mu.Lock()
	b.m = m
	b.mu.Unlock()
	return nil
}

// EffectiveBinding returns the binding for a scope, if the scope is bound.
func (b *Bindings) EffectiveBinding(scopeID string) (types.Binding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	binding, ok := b.m[scopeID]
	return binding, ok
}

// Watch reloads the bindings whenever the file changes, until ctx is done.
// Reload failures keep the previous bindings and are logged only.
func (b *Bindings) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory: editors replace the file rather than write in place.
	if err := watcher.Add(filepath.Dir(b.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(b.path), err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(b.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := b.reload(); err != nil {
					debug.Logf("bindings reload: %v\n", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				debug.Logf("bindings watcher: %v\n", err)
			}
		}
	}()
	return nil
}
