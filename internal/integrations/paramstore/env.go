package paramstore

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Env resolves parameters from the process environment. The last path
// segment of a parameter name becomes the variable name, so
// "/intellect/gnews-token" is read from GNEWS_TOKEN.
type Env struct {
	lookup func(string) (string, bool)
}

// NewEnv returns an Env backed by os.LookupEnv.
func NewEnv() *Env {
	return &Env{lookup: os.LookupEnv}
}

func (e *Env) GetParameter(_ context.Context, name string) (string, error) {
	key := EnvKey(name)
	if key == "" {
		return "", fmt.Errorf("paramstore: name is required")
	}
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("paramstore: env %s: %w", key, ErrNotFound)
	}
	return v, nil
}

// EnvKey maps a parameter name to its environment variable.
func EnvKey(name string) string {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
