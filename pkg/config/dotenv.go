package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a nearby .env file into the process environment.
// Variables already set in the environment take precedence, and a
// missing file is not an error.
func LoadDotEnv() error {
	candidates := []string{".env", "../.env", "../../.env"}

	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, ".env"),
			filepath.Join(dir, "..", ".env"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return godotenv.Load(path)
	}

	return nil
}
