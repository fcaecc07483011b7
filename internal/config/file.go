package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile exports the keys of a flat YAML file into the environment, so
// Load picks them up. Keys are the environment names in any case
// (port, db_path, ...). Variables already set in the environment win, the
// same precedence godotenv uses for .env.
func LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var values map[string]string
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	for key, value := range values {
		name := strings.ToUpper(strings.TrimSpace(key))
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, value); err != nil {
			return err
		}
	}
	return nil
}
