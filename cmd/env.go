package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/orderguardian/internal/config"
	"github.com/orderguardian/internal/database"
)

// EnvCheckResult holds the ORDERGUARDIAN_ overrides found in the environment
type EnvCheckResult struct {
	Present  map[string]string // config key -> value, secrets masked
	Warnings []string
}

// keys whose values are never printed in clear
var secretKeys = []string{"api_key", "jwt_secret", "admin_key_hash", "database_url", "redis_url"}

// CheckEnvironment lists the overrides config.LoadConfig will apply.
func CheckEnvironment() *EnvCheckResult {
	result := &EnvCheckResult{Present: make(map[string]string)}

	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, config.EnvPrefix) {
			continue
		}
		key := config.EnvKey(name)
		if isSecret(key) {
			value = maskSecret(value)
		}
		if value == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s is set but empty", name))
		}
		result.Present[key] = value
	}

	if os.Getenv("DATABASE_URL") != "" && os.Getenv(config.EnvPrefix+"STORE_DATABASE_URL") == "" {
		result.Warnings = append(result.Warnings, "DATABASE_URL is set; it is used only when store.database_url is empty")
	}
	return result
}

// PrintEnvCheck prints the environment check results
func PrintEnvCheck(w io.Writer, result *EnvCheckResult) {
	fmt.Fprintln(w, "=== Environment Overrides ===")

	if len(result.Present) == 0 {
		fmt.Fprintln(w, "No ORDERGUARDIAN_ variables set")
	}
	keys := make([]string, 0, len(result.Present))
	for k := range result.Present {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "   - %s = %s\n", k, result.Present[k])
	}

	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "⚠ Warning: %s\n", warn)
	}
	fmt.Fprintln(w, "=============================")
}

func isSecret(key string) bool {
	for _, s := range secretKeys {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	vars, err := database.ReadEnvFile(filename)
	if err != nil {
		return err
	}
	for key, value := range vars {
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}
	return nil
}
