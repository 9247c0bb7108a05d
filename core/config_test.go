package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, files map[string]string) string {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config", name), []byte(content), 0o600))
	}
	return dir
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("TEST_SERVICES_EVENTS", " http://events-a:4000/ , ,http://events-b:4000")
	dir := writeConfig(t, map[string]string{
		"portal.yaml": `
fetch:
  maxRetries: 4
services:
  api:
    - http://api-primary:5000/
    - http://api-backup:5000
`,
		".env.test": "TEST_STORE_DRIVER=mongo\nTEST_STORE_URL=mongodb://localhost:27017\nTEST_STORE_DATABASE=portal\n",
	})

	conf, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "TEST", conf.Env)
	assert.True(t, conf.TestMode)
	assert.Equal(t, 4, conf.Fetch.MaxRetries)
	assert.Equal(t, 5*time.Second, conf.Fetch.Timeout)
	assert.Equal(t, "mongo", conf.Store.Driver)
	assert.Equal(t, "portal", conf.Store.Database)
	assert.Equal(t, map[string][]string{
		"api":    {"http://api-primary:5000", "http://api-backup:5000"},
		"events": {"http://events-a:4000", "http://events-b:4000"},
	}, conf.Services)
	assert.Equal(t, []string{"api", "events"}, conf.ServiceNames())

	assert.NoError(t, conf.Validate(validator.New()))
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			AppName:   "Masomo",
			SecretKey: "secret",
			Server:    ServerConfig{Host: ":8000", DebugHost: ":4000", ShutdownTimeout: time.Second},
			Fetch:     FetchConfig{Timeout: time.Second, MaxRetries: 2},
			Store:     StoreConfig{Driver: "memory"},
			Auth:      AuthConfig{TokenTTL: time.Minute},
			Services:  map[string][]string{"api": {"http://localhost:5000"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no services", mutate: func(c *Config) { c.Services = nil }, wantErr: true},
		{name: "service without candidates", mutate: func(c *Config) { c.Services["events"] = nil }, wantErr: true},
		{name: "bad candidate url", mutate: func(c *Config) { c.Services["api"] = []string{"not a url"} }, wantErr: true},
		{name: "unknown store driver", mutate: func(c *Config) { c.Store.Driver = "redis" }, wantErr: true},
		{name: "postgres without url", mutate: func(c *Config) { c.Store.Driver = "postgres" }, wantErr: true},
		{name: "too many retries", mutate: func(c *Config) { c.Fetch.MaxRetries = 11 }, wantErr: true},
		{name: "no timeout", mutate: func(c *Config) { c.Fetch.Timeout = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := valid()
			tt.mutate(conf)
			if err := conf.Validate(validator.New()); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseOrdering(t *testing.T) {
	tests := []struct {
		expr   string
		want   DBOrdering
		wantOk bool
	}{
		{expr: "title", want: DBOrdering{Field: "title", Ascending: true}, wantOk: true},
		{expr: " -createdAt ", want: DBOrdering{Field: "createdAt"}, wantOk: true},
		{expr: "-"},
		{expr: ""},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, ok := ParseOrdering(tt.expr)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
