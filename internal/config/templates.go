package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const (
	KindHub    = "hub"
	KindClient = "client"
)

// Template renders the default config for kind as TOML.
func Template(kind string) (string, error) {
	var doc any
	switch normalizeKind(kind) {
	case KindHub:
		doc = DefaultHubFile()
	case KindClient:
		doc = DefaultClientFile()
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	out, err := toml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return string(out), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
