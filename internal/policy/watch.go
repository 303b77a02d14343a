package policy

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	. "github.com/forgecore/forge/internal/logging"
)

// fileLayers is the on-disk shape of a Layered policy file (global and
// project layers only — Session is always supplied in-process per
// conversation and never loaded from disk).
type fileLayers struct {
	Global  Policy `yaml:"global"`
	Project Policy `yaml:"project"`
}

// LoadFile reads a Layered{Global, Project} pair from a YAML file at
// path, the on-disk counterpart to the teacher's goclaw.json holding a
// writeProtectedDirs list, generalized to the full Rule/DefaultPermission
// shape this package matches against.
func LoadFile(path string) (Layered, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layered{}, err
	}
	var fl fileLayers
	if err := yaml.Unmarshal(data, &fl); err != nil {
		return Layered{}, err
	}
	return Layered{Global: fl.Global, Project: fl.Project}, nil
}

// Watcher keeps an Engine's Session layer fixed while hot-reloading its
// Global/Project layers whenever the backing policy file changes on
// disk, mirroring the teacher's internal/skills.watcher watching its
// skills directory with fsnotify and re-running its loader on write.
type Watcher struct {
	mu     sync.RWMutex
	path   string
	engine *Engine
	watch  *fsnotify.Watcher
}

// NewWatcher loads path once, builds its Engine, and starts watching
// path for writes. Callers read the live Engine back via Engine().
func NewWatcher(path string, session Policy) (*Watcher, error) {
	w := &Watcher{path: path}
	if err := w.reload(session); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	w.watch = fw

	go w.run(session)
	return w, nil
}

func (w *Watcher) run(session Policy) {
	for {
		select {
		case ev, ok := <-w.watch.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reload(session); err != nil {
				L_warn("policy: reload after change failed, keeping previous rules", "path", w.path, "error", err)
				continue
			}
			L_info("policy: reloaded after on-disk change", "path", w.path)
		case err, ok := <-w.watch.Errors:
			if !ok {
				return
			}
			L_warn("policy: watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(session Policy) error {
	layers, err := LoadFile(w.path)
	if err != nil {
		return err
	}
	layers.Session = session
	engine, err := NewEngine(layers)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.engine = engine
	w.mu.Unlock()
	return nil
}

// Engine returns the currently active Engine, safe to call concurrently
// with a reload in progress.
func (w *Watcher) Engine() *Engine {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.engine
}

// Close stops the underlying fsnotify watch.
func (w *Watcher) Close() error {
	if w.watch == nil {
		return nil
	}
	return w.watch.Close()
}
