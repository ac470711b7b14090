package config

import (
	_ "embed"
	"os"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed baseline_linux.yaml
var baselineLinuxYAML []byte

//go:embed baseline_darwin.yaml
var baselineDarwinYAML []byte

//go:embed baseline_windows.yaml
var baselineWindowsYAML []byte

type baselineDoc struct {
	Allow []string `yaml:"allow"`
}

// InheritedBaseline returns the platform-curated allow-list of inherited
// environment variables, read from the current process's environment. It is
// data, not logic: the allow-list itself lives in the embedded baseline_*
// resources, one per OS family, per §6.
func InheritedBaseline() []string {
	var raw []byte
	switch runtime.GOOS {
	case "darwin":
		raw = baselineDarwinYAML
	case "windows":
		raw = baselineWindowsYAML
	default:
		raw = baselineLinuxYAML
	}

	var doc baselineDoc
	_ = yaml.Unmarshal(raw, &doc)

	var env []string
	for _, name := range doc.Allow {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

// MergeEnv overlays descriptor-level env on top of the inherited baseline,
// per §6 ("the stdio child environment is InheritedBaseline ∪ descriptor.env
// (descriptor overrides)"). The result is sorted for deterministic ordering.
func MergeEnv(baseline []string, overlay map[string]string) []string {
	merged := make(map[string]string, len(baseline)+len(overlay))
	for _, kv := range baseline {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			merged[k] = v
		}
	}
	for k, v := range overlay {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}
