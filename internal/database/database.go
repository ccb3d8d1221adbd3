package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open creates a pgx connection pool. An empty url falls back to
// DATABASE_URL from the environment or the nearest .env file.
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		var err error
		url, err = LoadDatabaseURL()
		if err != nil {
			return nil, fmt.Errorf("failed to get database URL: %w", err)
		}
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return pool, nil
}

const urlKey = "DATABASE_URL"

// LoadDatabaseURL resolves DATABASE_URL from the environment, then from the
// nearest .env at or above the working directory.
func LoadDatabaseURL() (string, error) {
	if v := strings.TrimSpace(os.Getenv(urlKey)); v != "" {
		return v, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	path, ok := nearest(wd, ".env")
	if !ok {
		return "", fmt.Errorf("%s is not set and no .env exists above %s", urlKey, wd)
	}
	return urlFromEnvFile(path)
}

func urlFromEnvFile(path string) (string, error) {
	vars, err := ReadEnvFile(path)
	if err != nil {
		return "", err
	}
	v, found := vars[urlKey]
	if !found {
		return "", fmt.Errorf("%s not found in environment or %s", urlKey, path)
	}
	if v == "" {
		return "", fmt.Errorf("%s is empty in %s", urlKey, path)
	}
	return v, nil
}

// ReadEnvFile parses KEY=VALUE lines. Blank lines, # comments and an
// "export " prefix are accepted; one pair of matching quotes is stripped.
func ReadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]string)
	for n, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", path, n+1)
		}
		vars[key] = unquote(strings.TrimSpace(value))
	}
	return vars, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

func nearest(dir, name string) (string, bool) {
	for {
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
