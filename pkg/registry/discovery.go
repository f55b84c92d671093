package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/meshworks/relay/pkg/bus"
	"github.com/meshworks/relay/pkg/connector"
	"github.com/meshworks/relay/pkg/types"
)

// acronym-heavy or multi-word names the generic CamelCase→kebab-case
// rule would mangle
var typeNameOverrides = map[string]string{
	"UnifiProtect":      "unifi-protect",
	"WebGui":            "web-gui",
	"GuiDesigner":       "gui-designer",
	"ADSB":              "adsb",
	"APRS":              "aprs",
	"LLM":               "llm",
	"AnkkeDvr":          "ankke-dvr",
	"SpeedDetectionGui": "speed-detection-gui",
	"SpeedCalculation":  "speed-calculation",
}

// AutoDiscoverTypes scans a directory and registers one connector type
// per entry. The type id derives from the file name: extension stripped,
// trailing "Connector" stripped, then the override table or a generic
// CamelCase→kebab-case conversion. Ids with a catalogued builder get the
// builder's factory and capabilities; the rest fall back to a simulated
// driver so the hub stays operable with partially deployed connectors.
func (r *Registry) AutoDiscoverTypes(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var registered []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		typeID := DeriveTypeID(entry.Name())
		if typeID == "" {
			continue
		}
		if _, exists := r.TypeInfoFor(typeID); exists {
			r.logger.Warn().Str("type", typeID).Str("file", entry.Name()).
				Msg("duplicate type id, skipping")
			continue
		}

		info, ok := lookupBuilder(typeID)
		if !ok {
			info = TypeInfo{
				Type:         typeID,
				Version:      "0.0.0",
				Capabilities: manifestCapabilities(filepath.Join(dir, entry.Name())),
				Factory:      simulatedFactory,
			}
			r.logger.Debug().Str("type", typeID).Msg("no builder, using simulated driver")
		}
		info.Type = typeID
		if err := r.RegisterType(info); err != nil {
			return registered, err
		}
		registered = append(registered, typeID)
	}
	return registered, nil
}

// DeriveTypeID converts a connector file name to its type id
func DeriveTypeID(fileName string) string {
	name := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	name = strings.TrimSuffix(name, "Connector")
	if name == "" {
		return ""
	}
	if id, ok := typeNameOverrides[name]; ok {
		return id
	}
	return camelToKebab(name)
}

func camelToKebab(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// manifestCapabilities reads declared capabilities from a discovered
// file when it parses as a JSON manifest. Anything else yields no
// capabilities; the type still registers.
func manifestCapabilities(path string) []types.CapabilityDefinition {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var manifest struct {
		Capabilities []types.CapabilityDefinition `json:"capabilities"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil
	}
	return manifest.Capabilities
}

// simulatedDriver stands in for connector types discovered without a
// compiled-in builder. It connects instantly and echoes operations, so
// flows and rules can be exercised end to end before the real driver
// lands.
type simulatedDriver struct {
	cfg types.InstanceConfig
}

func simulatedFactory(cfg types.InstanceConfig, _ zerolog.Logger, _ bus.Sink) (connector.Driver, error) {
	return &simulatedDriver{cfg: cfg}, nil
}

func (s *simulatedDriver) PerformConnect(context.Context) error    { return nil }
func (s *simulatedDriver) PerformDisconnect(context.Context) error { return nil }

func (s *simulatedDriver) ExecuteCapability(_ context.Context, capID, op string, params map[string]any) (any, error) {
	return map[string]any{
		"simulated":  true,
		"capability": capID,
		"operation":  op,
		"params":     params,
	}, nil
}
