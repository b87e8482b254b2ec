package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Remote.BaseURL = "https://school.example.com"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Crawl.RateLimitDelay != time.Second {
		t.Errorf("Expected default rate limit delay to be 1s, got %v", config.Crawl.RateLimitDelay)
	}

	if config.Crawl.Scope != ScopeAll {
		t.Errorf("Expected default scope to be %s, got %s", ScopeAll, config.Crawl.Scope)
	}

	if config.Output.TextExtension != ".md" {
		t.Errorf("Expected default text extension to be .md, got %s", config.Output.TextExtension)
	}

	if !config.Checkpoint.Enabled {
		t.Error("Expected checkpoints to be enabled by default")
	}

	if config.Crawl.Resume {
		t.Error("Expected resume to be opt-in")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("COURSEDUMP_BASE_URL", "https://env.example.com")
	t.Setenv("COURSEDUMP_OUTPUT_DIR", "/tmp/test-archive")
	t.Setenv("COURSEDUMP_RATE_LIMIT_DELAY", "2.5")
	t.Setenv("COURSEDUMP_RESUME", "true")
	t.Setenv("COURSEDUMP_START_INDEX", "4")
	t.Setenv("COURSEDUMP_SCOPE", ScopeContainersOnly)
	t.Setenv("COURSEDUMP_INCLUDE_BULLETINS", "false")
	t.Setenv("COURSEDUMP_CONCURRENT_DOWNLOADS", "5")
	t.Setenv("COURSEDUMP_JOURNAL_PATH", "/tmp/journal.db")
	t.Setenv("COURSEDUMP_LOG_LEVEL", "debug")

	config := DefaultConfig()
	err := config.LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", config.Remote.BaseURL)
	assert.Equal(t, "/tmp/test-archive", config.Output.BaseDirectory)
	assert.Equal(t, 2500*time.Millisecond, config.Crawl.RateLimitDelay)
	assert.True(t, config.Crawl.Resume)
	assert.Equal(t, 4, config.Crawl.StartIndex)
	assert.Equal(t, ScopeContainersOnly, config.Crawl.Scope)
	assert.False(t, config.Remote.IncludeBulletins)
	assert.Equal(t, 5, config.Download.ConcurrentDownloads)
	assert.True(t, config.Journal.Enabled)
	assert.Equal(t, "/tmp/journal.db", config.Journal.Path)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestLoadFromEnvInvalidValues(t *testing.T) {
	t.Setenv("COURSEDUMP_RATE_LIMIT_DELAY", "soon")
	t.Setenv("COURSEDUMP_START_INDEX", "first")

	config := DefaultConfig()
	err := config.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMIT_DELAY")
	assert.Contains(t, err.Error(), "START_INDEX")

	// bad values leave the defaults untouched
	assert.Equal(t, time.Second, config.Crawl.RateLimitDelay)
	assert.Equal(t, 0, config.Crawl.StartIndex)
}

func TestParseDelay(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"1500ms", 1500 * time.Millisecond, false},
		{"2s", 2 * time.Second, false},
		{"3", 3 * time.Second, false},
		{"0.25", 250 * time.Millisecond, false},
		{"never", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDelay(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDelay(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseDelay(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantError string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:      "missing base URL",
			modify:    func(c *Config) { c.Remote.BaseURL = "" },
			wantError: "base URL is required",
		},
		{
			name:      "base URL without scheme",
			modify:    func(c *Config) { c.Remote.BaseURL = "school.example.com" },
			wantError: "must start with http",
		},
		{
			name:      "negative delay",
			modify:    func(c *Config) { c.Crawl.RateLimitDelay = -time.Second },
			wantError: "rate limit delay",
		},
		{
			name:      "negative start index",
			modify:    func(c *Config) { c.Crawl.StartIndex = -1 },
			wantError: "start index",
		},
		{
			name:      "unknown scope",
			modify:    func(c *Config) { c.Crawl.Scope = "everything" },
			wantError: "invalid scope",
		},
		{
			name:      "extension without dot",
			modify:    func(c *Config) { c.Output.TextExtension = "txt" },
			wantError: "text extension",
		},
		{
			name:      "too many downloads",
			modify:    func(c *Config) { c.Download.ConcurrentDownloads = 20 },
			wantError: "should not exceed 10",
		},
		{
			name:      "unknown policy",
			modify:    func(c *Config) { c.Policy.Mode = "ask-later" },
			wantError: "invalid failure policy",
		},
		{
			name: "nothing included",
			modify: func(c *Config) {
				c.Remote.IncludeCourses = false
				c.Remote.IncludeProjects = false
				c.Remote.IncludeMessaging = false
			},
			wantError: "at least one",
		},
		{
			name:      "invalid log level",
			modify:    func(c *Config) { c.Logging.Level = "loud" },
			wantError: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

func TestValidateJoinsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Remote.BaseURL = ""
	cfg.Crawl.Scope = "bogus"
	cfg.Download.ConcurrentDownloads = 0

	err := cfg.Validate()
	require.Error(t, err)
	lines := strings.Split(err.Error(), "\n")
	assert.Len(t, lines, 3)
}

func TestMergeCommandLineFlags(t *testing.T) {
	config := validConfig()

	flags := map[string]interface{}{
		"output":           "/custom/output",
		"rate-limit-delay": 3 * time.Second,
		"resume":           true,
		"start-index":      2,
		"scope":            ScopeLeafMessagesOnly,
		"no-checkpoint":    true,
		"on-failure":       PolicyAbort,
		"log-level":        "warn",
	}

	config.MergeCommandLineFlags(flags)

	assert.Equal(t, "/custom/output", config.Output.BaseDirectory)
	assert.Equal(t, 3*time.Second, config.Crawl.RateLimitDelay)
	assert.True(t, config.Crawl.Resume)
	assert.Equal(t, 2, config.Crawl.StartIndex)
	assert.Equal(t, ScopeLeafMessagesOnly, config.Crawl.Scope)
	assert.False(t, config.Checkpoint.Enabled)
	assert.Equal(t, PolicyAbort, config.Policy.Mode)
	assert.Equal(t, "warn", config.Logging.Level)
}

func TestMergeCommandLineFlagsIgnoresMissingKeys(t *testing.T) {
	config := validConfig()
	config.MergeCommandLineFlags(map[string]interface{}{})

	assert.Equal(t, validConfig(), config)
}

func TestSaveAndLoadFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	original := validConfig()
	original.Output.BaseDirectory = "/archive"
	original.Crawl.RateLimitDelay = 750 * time.Millisecond
	original.Crawl.Scope = ScopeContainersOnly

	err := original.Save(configPath)
	require.NoError(t, err)

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	err = loaded.LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, original.Remote.BaseURL, loaded.Remote.BaseURL)
	assert.Equal(t, "/archive", loaded.Output.BaseDirectory)
	assert.Equal(t, 750*time.Millisecond, loaded.Crawl.RateLimitDelay)
	assert.Equal(t, ScopeContainersOnly, loaded.Crawl.Scope)
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawl: [unterminated"), 0644))

	err := DefaultConfig().LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadPrecedence(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")
	content := `
remote:
  base_url: https://file.example.com
output:
  base_directory: /from-file
crawl:
  start_index: 1
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	t.Setenv("HOME", tempDir)
	t.Setenv("COURSEDUMP_OUTPUT_DIR", "/from-env")

	cfg, err := Load(configPath, map[string]interface{}{"start-index": 7})
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "/from-env", cfg.Output.BaseDirectory)
	assert.Equal(t, 7, cfg.Crawl.StartIndex)
}

func TestDerivedPaths(t *testing.T) {
	cfg := validConfig()
	cfg.Output.BaseDirectory = "/archive"

	assert.Equal(t, filepath.Join("/archive", "saved_progress_state.txt"), cfg.CheckpointPath())
	assert.Equal(t, filepath.Join("/archive", "journal.db"), cfg.JournalPath())

	cfg.Checkpoint.Path = "/elsewhere/state.txt"
	assert.Equal(t, "/elsewhere/state.txt", cfg.CheckpointPath())

	cfg.Output.MaxPathLength = 100
	assert.Equal(t, 100, cfg.EffectiveMaxPathLength())
}

func TestUserDirs(t *testing.T) {
	assert.Equal(t, AppName, filepath.Base(ConfigDir()))
	assert.Equal(t, AppName, filepath.Base(DataDir()))
	assert.True(t, filepath.IsAbs(DataDir()))
}
