package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/meshworks/relay/pkg/errdefs"
	"github.com/meshworks/relay/pkg/types"
)

// saver debounces connector-file writes. Create/update/remove each call
// scheduleSave; a burst of mutations produces one write after the quiet
// period instead of one write per mutation.
type saver struct {
	path     string
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// EnableAutoSave turns on debounced persistence of the instance set to
// path. Zero debounce saves immediately on every mutation.
func (r *Registry) EnableAutoSave(path string, debounce time.Duration) {
	r.mu.Lock()
	r.saver = &saver{path: path, debounce: debounce}
	r.mu.Unlock()
}

func (r *Registry) scheduleSave() {
	r.mu.RLock()
	s := r.saver
	r.mu.RUnlock()
	if s == nil {
		return
	}
	if s.debounce <= 0 {
		if err := r.SaveInstances(s.path); err != nil {
			r.logger.Error().Err(err).Str("path", s.path).Msg("connector file save failed")
		}
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := r.SaveInstances(s.path); err != nil {
			r.logger.Error().Err(err).Str("path", s.path).Msg("connector file save failed")
		}
	})
}

// FlushSave cancels any pending debounced save and writes now. Called on
// shutdown so the last mutations are never lost to the quiet period.
func (r *Registry) FlushSave() error {
	r.mu.RLock()
	s := r.saver
	r.mu.RUnlock()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return r.SaveInstances(s.path)
}

// SaveInstances writes the current instance set as a connector file.
// The write goes through a temp file and rename so a crash mid-write
// never leaves a truncated document.
func (r *Registry) SaveInstances(path string) error {
	r.mu.RLock()
	file := types.ConnectorsFile{Connectors: make([]types.InstanceConfig, 0, len(r.configs))}
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		cfg, ok := r.ConfigFor(id)
		if !ok {
			continue
		}
		if inst, found := r.Get(id); found {
			_, disabled := inst.EnabledCapabilityIDs()
			cfg.Capabilities.Disabled = disabled
		}
		file.Connectors = append(file.Connectors, cfg)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return errdefs.Wrap(errdefs.KindStore, err, "marshal connector file")
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errdefs.Wrap(errdefs.KindStore, err, "create connector file directory")
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errdefs.Wrap(errdefs.KindStore, err, "write connector file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errdefs.Wrap(errdefs.KindStore, err, "replace connector file")
	}
	r.logger.Debug().Str("path", path).Int("connectors", len(file.Connectors)).
		Msg("connector file saved")
	return nil
}

// LoadInstances reads a connector file and creates each instance.
// A bad document fails the whole load; a bad single connector is logged
// and skipped so one typo cannot keep the rest of the fleet down.
func (r *Registry) LoadInstances(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errdefs.Wrap(errdefs.KindStore, err, "read connector file")
	}
	var file types.ConnectorsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return 0, errdefs.Wrap(errdefs.KindConfig, err, "parse connector file %s", path)
	}

	created := 0
	for _, cfg := range file.Connectors {
		if _, err := r.CreateInstance(cfg); err != nil {
			r.logger.Error().Err(err).Str("connector_id", cfg.ID).
				Msg("skipping connector from file")
			continue
		}
		created++
	}
	return created, nil
}
