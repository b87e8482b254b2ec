package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"coursedump/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{
			name:    "info level",
			cfg:     &config.LoggingConfig{Level: "info"},
			wantErr: false,
		},
		{
			name:    "pretty debug level",
			cfg:     &config.LoggingConfig{Level: "debug", Pretty: true},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			cfg:     &config.LoggingConfig{Level: "invalid"},
			wantErr: true,
		},
		{
			name:    "file output",
			cfg:     &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "run.log")},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"fatal", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseLogLevel() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if level != tt.expected {
				t.Errorf("parseLogLevel() = %v, want %v", level, tt.expected)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "warn")
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestFieldChaining(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	l.WithField("course", "Physics").
		WithFields(map[string]interface{}{"depth": 2, "container": true}).
		Info("chained fields")

	output := buf.String()
	assert.Contains(t, output, "chained fields")
	assert.Contains(t, output, `"course":"Physics"`)
	assert.Contains(t, output, `"depth":2`)
	assert.Contains(t, output, `"container":true`)
}

func TestChildLoggersDoNotLeakFields(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	_ = base.WithField("leak", "yes")
	base.Info("plain")

	assert.NotContains(t, buf.String(), "leak")
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	assert.Same(t, l, l.WithError(nil))

	l.WithError(errors.New("disk full")).Error("write failed")
	assert.Contains(t, buf.String(), "disk full")
	assert.Contains(t, buf.String(), "write failed")
}

func TestFieldTypes(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	l.InfoWithFields("all types", map[string]interface{}{
		"string":   "test",
		"int64":    int64(456),
		"float":    3.14,
		"time":     time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		"duration": 5 * time.Second,
		"strings":  []string{"a", "b"},
		"ints":     []int{1, 2, 3},
		"err":      errors.New("boom"),
		"custom":   struct{ Name string }{Name: "x"},
	})

	output := buf.String()
	assert.Contains(t, output, "all types")
	assert.Contains(t, output, `"ints":[1,2,3]`)
	assert.Contains(t, output, `"err":"boom"`)
}

func TestGlobalLogger(t *testing.T) {
	previous := GetLogger()
	defer SetLogger(previous)

	test := NewTestLogger()
	SetLogger(test)

	Info("info message")
	WithField("key", "value").Warn("with field")
	WithError(errors.New("oops")).Error("with error")

	messages := test.GetMessages()
	require.Len(t, messages, 3)
	assert.Equal(t, "value", messages[1].Fields["key"])
	assert.EqualError(t, messages[2].Error, "oops")
}

func TestTestLogger(t *testing.T) {
	l := NewTestLogger()

	l.WithField("a", 1).WithError(errors.New("bad")).WarnWithFields("careful", map[string]interface{}{"b": 2})
	l.Info("hello")

	assert.True(t, l.HasMessage("careful"))
	assert.False(t, l.HasError())
	warns := l.GetMessagesByLevel("WARN")
	require.Len(t, warns, 1)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, warns[0].Fields)
	assert.True(t, strings.Contains(l.String(), "error=bad"))

	l.Clear()
	assert.Empty(t, l.GetMessages())
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.WithField("k", "v").WithError(errors.New("x")).Error("ignored")
	l.InfoWithFields("ignored", nil)
}
