package connectors

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshworks/relay/pkg/bus"
	"github.com/meshworks/relay/pkg/connector"
	"github.com/meshworks/relay/pkg/errdefs"
	"github.com/meshworks/relay/pkg/registry"
	"github.com/meshworks/relay/pkg/types"
)

// fileRecorder appends JSON lines to a file. It backs the record action
// and doubles as a poor man's audit sink for flows.
type fileRecorder struct {
	path   string
	logger zerolog.Logger

	mu   sync.Mutex
	file *os.File
}

func init() {
	registry.RegisterBuilder(registry.TypeInfo{
		Type:    "file-recorder",
		Version: "1.0.0",
		Capabilities: []types.CapabilityDefinition{
			{
				ID:                 "record:file",
				Name:               "File record",
				Operations:         []string{"write", "read"},
				RequiresConnection: true,
				Parameters: map[string]types.ParameterSpec{
					"entry": {Type: "object"},
					"limit": {Type: "number"},
				},
			},
		},
		Validate: func(config map[string]any) error {
			if path, _ := config["path"].(string); path == "" {
				return errdefs.New(errdefs.KindConfig, "file-recorder needs a path")
			}
			return nil
		},
		Factory: func(cfg types.InstanceConfig, logger zerolog.Logger, _ bus.Sink) (connector.Driver, error) {
			path, _ := cfg.Config["path"].(string)
			return &fileRecorder{path: path, logger: logger}, nil
		},
	})
}

func (r *fileRecorder) PerformConnect(context.Context) error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.file = f
	r.mu.Unlock()
	return nil
}

func (r *fileRecorder) PerformDisconnect(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *fileRecorder) ExecuteCapability(_ context.Context, _, op string, params map[string]any) (any, error) {
	switch op {
	case "write":
		entry, ok := params["entry"].(map[string]any)
		if !ok {
			return nil, errdefs.New(errdefs.KindParameter, "write needs an entry")
		}
		return r.write(entry)
	case "read":
		limit := 100
		if n, ok := params["limit"].(float64); ok && n > 0 {
			limit = int(n)
		}
		return r.read(limit)
	default:
		return nil, errdefs.New(errdefs.KindCapability, "unsupported operation %q", op)
	}
}

func (r *fileRecorder) write(entry map[string]any) (any, error) {
	entry["recordedAt"] = time.Now().UTC().Format(time.RFC3339)
	line, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil, errdefs.New(errdefs.KindLifecycle, "recorder is not connected")
	}
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		return nil, err
	}
	return map[string]any{"written": true}, nil
}

// read returns up to limit most recent entries
func (r *fileRecorder) read(limit int) (any, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		lines = append(lines, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, nil
}
