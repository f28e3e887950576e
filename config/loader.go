package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/semtopo/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SEMTOPO"

// Loader reads configuration layers and merges them over Default. Later
// layers override earlier ones key by key.
type Loader struct {
	layers    []string
	envPrefix string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges all layers in order and validates the result.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		layer, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		merged = deepMergeMaps(merged, layer)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode config")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes one document. format is "json" or "yaml".
func Parse(data []byte, format string) (*Config, error) {
	raw, err := decodeRaw(data, format)
	if err != nil {
		return nil, err
	}
	base, err := toMap(Default())
	if err != nil {
		return nil, err
	}
	cfg, err := fromMap(deepMergeMaps(base, raw))
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Parse", "decode config")
	}
	return cfg, nil
}

func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeRaw(data, formatOf(path))
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func decodeRaw(data []byte, format string) (map[string]any, error) {
	var raw map[string]any
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}
	if err := checkDepth(raw, 0); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// fromMap decodes a merged map, rejecting keys that match no field.
func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies SEMTOPO_* environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return "", false, nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key)
		}
		return val, true, nil
	}

	strs := map[string]*string{
		"TOPOLOGY_NAME": &cfg.Topology.Name,
		"TOPOLOGY_KIND": &cfg.Topology.Kind,
		"ERROR_POLICY":  &cfg.ErrorPolicy,
		"KAFKA_TOPIC":   &cfg.Kafka.Topic,
		"KAFKA_GROUP":   &cfg.Kafka.Group,
		"NATS_URL":      &cfg.NATS.URL,
		"NATS_USERNAME": &cfg.NATS.Username,
		"NATS_PASSWORD": &cfg.NATS.Password,
		"NATS_TOKEN":    &cfg.NATS.Token,
		"OUTPUT_DIR":    &cfg.Output.Directory,
	}
	for name, dst := range strs {
		val, ok, err := get(name)
		if err != nil {
			return err
		}
		if ok {
			*dst = val
		}
	}

	if val, ok, err := get("KAFKA_BROKERS"); err != nil {
		return err
	} else if ok {
		cfg.Kafka.Brokers = strings.Split(val, ",")
	}

	if val, ok, err := get("DELIVERY_ENABLED"); err != nil {
		return err
	} else if ok {
		enabled, perr := strconv.ParseBool(val)
		if perr != nil {
			return errors.WrapInvalid(perr, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_DELIVERY_ENABLED")
		}
		cfg.Delivery.Enabled = &enabled
	}

	if val, ok, err := get("WORKERS"); err != nil {
		return err
	} else if ok {
		n, perr := strconv.Atoi(val)
		if perr != nil {
			return errors.WrapInvalid(perr, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_WORKERS")
		}
		cfg.Placement.Workers = n
	}
	return nil
}

// SaveToFile writes the configuration as JSON or YAML, chosen by extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if formatOf(path) == "yaml" {
		var m map[string]any
		if m, err = toMap(c); err == nil {
			data, err = yaml.Marshal(m)
		}
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "encode config")
	}
	return safeWriteFile(path, data)
}
