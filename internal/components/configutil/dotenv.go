package configutil

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotenv loads the given dotenv files (".env" when none are given) into the
// process environment without overriding variables that are already set.
// Missing files are not an error.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := []string{}
	for _, f := range files {
		_, err := os.Stat(f)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		existing = append(existing, f)
	}
	if len(existing) == 0 {
		return nil
	}
	slog.Info("loading dotenv", "files", existing)
	return godotenv.Load(existing...)
}

// EnvOr returns the value of the environment variable key, or fallback when unset or empty.
func EnvOr(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
