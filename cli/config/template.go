package config

import (
	_ "embed"
	"fmt"
	"os"
)

// DefaultFilename is the conventional config file name.
const DefaultFilename = "gridrunner.yaml"

//go:embed template/gridrunner.yaml
var defaultTemplate []byte

// Template returns the annotated starter configuration.
func Template() []byte {
	return append([]byte(nil), defaultTemplate...)
}

// WriteTemplate writes the starter configuration to path. Refuses to
// overwrite an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, not overwriting", path)
	}
	return os.WriteFile(path, defaultTemplate, 0o644)
}
