package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/docker/model-ops-coordinator/internal/errs"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the fixed prefix environment variables must carry to be
// folded into configuration, matching original_source's "MOC_".
const EnvPrefix = "MOC_"

var filePriority = map[string]int{
	"default.yaml":     100,
	"local.yaml":       10,
	"development.yaml": 30,
	"production.yaml":  20,
}

const defaultFilePriority = 60
const envPriority = 1 // highest priority: lower number wins in the merge order

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

type source struct {
	priority int
	data     map[string]interface{}
}

// Loader loads and merges configuration from embedded defaults, YAML files
// in a config directory, and environment variables, exactly as
// UnifiedConfigLoader does in original_source/model_ops_coordinator/config/loader.py.
type Loader struct {
	ConfigDir string
}

// NewLoader builds a loader rooted at configDir (may not exist; absence of
// the directory simply means no file layer contributes).
func NewLoader(configDir string) *Loader {
	return &Loader{ConfigDir: configDir}
}

// Load resolves the full layered configuration into a validated Config.
func (l *Loader) Load() (*Config, error) {
	var sources []source

	var defaults map[string]interface{}
	if err := yaml.Unmarshal([]byte(embeddedDefaults), &defaults); err != nil {
		return nil, &errs.ConfigurationError{Key: "<embedded>", Reason: err.Error()}
	}
	sources = append(sources, source{priority: 200, data: defaults})

	for name := range filePriority {
		path := filepath.Join(l.ConfigDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, &errs.ConfigurationError{Key: path, Reason: err.Error()}
		}
		var parsed map[string]interface{}
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, &errs.ConfigurationError{Key: path, Reason: fmt.Sprintf("yaml parse error: %v", err)}
		}
		sources = append(sources, source{priority: filePriority[name], data: parsed})
	}

	if envData := loadEnvironmentSource(); envData != nil {
		sources = append(sources, source{priority: envPriority, data: envData})
	}

	// Merge lowest-priority-first (highest number first) so higher
	// priority (lower number) sources overwrite, matching
	// UnifiedConfigLoader._merge_sources's reverse-priority sort.
	sortByPriorityDesc(sources)
	merged := map[string]interface{}{}
	for _, s := range sources {
		merged = deepMerge(merged, s.data)
	}

	resolved := resolveEnvVars(merged).(map[string]interface{})

	out, err := yaml.Marshal(resolved)
	if err != nil {
		return nil, &errs.ConfigurationError{Key: "<merged>", Reason: err.Error()}
	}
	var cfg Config
	if err := yaml.Unmarshal(out, &cfg); err != nil {
		return nil, &errs.ConfigurationError{Key: "<merged>", Reason: fmt.Sprintf("config validation failed: %v", err)}
	}
	return &cfg, nil
}

func sortByPriorityDesc(sources []source) {
	for i := 1; i < len(sources); i++ {
		for j := i; j > 0 && sources[j-1].priority < sources[j].priority; j-- {
			sources[j-1], sources[j] = sources[j], sources[j-1]
		}
	}
}

func loadEnvironmentSource() map[string]interface{} {
	var shape map[string]interface{}
	_ = yaml.Unmarshal([]byte(embeddedDefaults), &shape)
	data := map[string]interface{}{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], EnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(parts[0], EnvPrefix))
		// Underscores separate levels, except inside a key of the embedded defaults (MOC_SERVER_REST_PORT -> server.rest_port).
		words, node, nestedKeys := strings.Split(key, "_"), shape, []string(nil)
		for len(words) > 0 {
			n := len(words)
			for ; n > 1; n-- {
				if _, ok := node[strings.Join(words[:n], "_")]; ok {
					break
				}
			}
			nestedKeys = append(nestedKeys, strings.Join(words[:n], "_"))
			node, _ = node[nestedKeys[len(nestedKeys)-1]].(map[string]interface{})
			words = words[n:]
		}
		setNestedValue(data, nestedKeys, convertEnvValue(parts[1]))
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

func setNestedValue(data map[string]interface{}, keys []string, value interface{}) {
	cur := data
	for _, k := range keys[:len(keys)-1] {
		next, ok := cur[k].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[k] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
}

// convertEnvValue mirrors UnifiedConfigLoader._convert_env_value: bool,
// then int, then float, then JSON array/object, else raw string.
func convertEnvValue(v string) interface{} {
	lower := strings.ToLower(v)
	if lower == "true" || lower == "false" {
		return lower == "true"
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if strings.Contains(v, ".") {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	if strings.HasPrefix(v, "[") || strings.HasPrefix(v, "{") {
		var parsed interface{}
		if err := yaml.Unmarshal([]byte(v), &parsed); err == nil {
			return parsed
		}
	}
	return v
}

func deepMerge(base, overlay map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overlay {
		if bv, ok := result[k]; ok {
			bm, bok := bv.(map[string]interface{})
			om, ook := v.(map[string]interface{})
			if bok && ook {
				result[k] = deepMerge(bm, om)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// resolveEnvVars walks the merged tree substituting ${VAR:default}
// placeholders in every string value, matching
// UnifiedConfigLoader._substitute_env_vars exactly (same regex, same
// default-value semantics).
func resolveEnvVars(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return substituteEnvVars(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = resolveEnvVars(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = resolveEnvVars(item)
		}
		return out
	default:
		return value
	}
}

func substituteEnvVars(text string) string {
	return envVarPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		varName := groups[1]
		defaultValue := groups[2]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return defaultValue
	})
}
