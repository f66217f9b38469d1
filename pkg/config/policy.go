package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/workforcelabs/foreman/pkg/models"
)

// RoutingPolicyFile is the persisted task-type → model-id map. Entries
// must reference models present in the registry.
type RoutingPolicyFile struct {
	mu       sync.RWMutex
	path     string
	registry *models.Registry
	policies map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// LoadRoutingPolicy reads and validates the policy file. A missing file
// yields an empty policy.
func LoadRoutingPolicy(path string, registry *models.Registry) (*RoutingPolicyFile, error) {
	p := &RoutingPolicyFile{
		path:     path,
		registry: registry,
		policies: map[string]string{},
	}
	if path == "" {
		return p, nil
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// ModelFor returns the model id pinned for a task type, if any.
func (p *RoutingPolicyFile) ModelFor(taskType string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.policies[taskType]
	return id, ok
}

// All returns a copy of the policy map.
func (p *RoutingPolicyFile) All() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.policies))
	for k, v := range p.policies {
		out[k] = v
	}
	return out
}

func (p *RoutingPolicyFile) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read routing policy: %w", err)
	}
	var policies map[string]string
	if err := json.Unmarshal(data, &policies); err != nil {
		return fmt.Errorf("failed to parse routing policy: %w", err)
	}
	for taskType, modelID := range policies {
		if !p.registry.Has(modelID) {
			return fmt.Errorf("routing policy %s → %s references unknown model", taskType, modelID)
		}
	}
	p.mu.Lock()
	p.policies = policies
	p.mu.Unlock()
	return nil
}

// Watch reloads the policy when the file changes. Invalid updates are
// logged and the previous policy kept.
func (p *RoutingPolicyFile) Watch() error {
	if p.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch policy dir: %w", err)
	}
	p.watcher = watcher
	p.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != p.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := p.reload(); err != nil {
					slog.Warn("routing policy reload failed, keeping previous", "error", err)
					continue
				}
				slog.Info("routing policy reloaded", "path", p.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("routing policy watcher error", "error", err)
			case <-p.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (p *RoutingPolicyFile) Close() error {
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}
