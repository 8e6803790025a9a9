package env

import (
	"os"
	"strings"
)

// VarPrefix marks process environment variables that become suite variables.
const VarPrefix = "QARUN_VAR_"

// Environment is the resolved variable set for one named environment.
type Environment struct {
	Name      string
	Variables map[string]any
}

// LoadEnvironment merges the named config environment, an optional .env file
// and QARUN_VAR_* process variables, later sources winning.
func LoadEnvironment(name string, configEnvs map[string]map[string]any, dotEnvPath string) (*Environment, error) {
	var fileVars map[string]any
	if dotEnvPath != "" {
		vars, err := LoadDotEnv(dotEnvPath)
		if err != nil {
			return nil, err
		}
		fileVars = make(map[string]any, len(vars))
		for k, v := range vars {
			fileVars[k] = v
		}
	}

	return &Environment{
		Name:      name,
		Variables: MergeVariables(configEnvs[name], fileVars, LoadSystemEnv(VarPrefix)),
	}, nil
}

func MergeVariables(sources ...map[string]any) map[string]any {
	result := make(map[string]any)
	for _, src := range sources {
		for k, v := range src {
			result[k] = v
		}
	}
	return result
}

// LoadSystemEnv returns process variables starting with prefix, keyed by the
// remainder of their name.
func LoadSystemEnv(prefix string) map[string]any {
	result := make(map[string]any)
	for _, e := range os.Environ() {
		key, value, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		if name, found := strings.CutPrefix(key, prefix); found && name != "" {
			result[name] = value
		}
	}
	return result
}
