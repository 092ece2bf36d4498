package config

import (
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// LoadEnvOverride reads the Env* variables through lookup. Unset or blank
// variables leave the corresponding field nil.
func LoadEnvOverride(lookup LookupFunc) (*ConfigOverride, error) {
	var override ConfigOverride
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvRoot); ok {
		override.Root = &v
	}
	if v, ok := get(EnvAddr); ok {
		override.Addr = &v
	}
	if v, ok := get(EnvChunkSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvChunkSize, err)
		}
		override.ChunkSize = &n
	}
	if v, ok := get(EnvVerbose); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvVerbose, err)
		}
		override.LogLvl = &n
	}
	if v, ok := get(EnvWebDAV); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvWebDAV, err)
		}
		override.WebDAV = &b
	}

	return &override, nil
}
