package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug level", "debug", "console"},
		{"info level", "info", "console"},
		{"warn level", "warn", "console"},
		{"error level", "error", "console"},
		{"json format", "info", "json"},
		{"uppercase level", "DEBUG", "console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Setup(tt.level, tt.format)
			require.NotNil(t, Log)
		})
	}
	Setup("info", "console")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, ParseLevel("verbose"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

// TestVendorMessage ensures runtime callback messages are tagged with their source and
// timestamp and lose trailing newlines.
func TestVendorMessage(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "trace", "json")
	defer Setup("info", "console")

	Log.Vendor(zerolog.ErrorLevel, 1234, "graph finalize failed\n")

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, "error", event["level"])
	assert.Equal(t, "vendor", event["source"])
	assert.Equal(t, float64(1234), event["vendor_ts"])
	assert.Equal(t, "graph finalize failed", event["message"])
}

func TestErrorsOnlyLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "debug", "json")
	defer Setup("info", "console")

	assert.False(t, Log.Errors("nothing", nil))
	assert.Zero(t, buf.Len())

	assert.True(t, Log.Errors("close failed", errors.New("boom"), "step", "deviceFree"))
	assert.Contains(t, buf.String(), `"error":"boom"`)
	assert.Contains(t, buf.String(), `"step":"deviceFree"`)
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "debug", "json")
	defer Setup("info", "console")

	Log.With("model", "mobilenet").Info("loaded", "inputs", 1)
	assert.Contains(t, buf.String(), `"model":"mobilenet"`)
	assert.Contains(t, buf.String(), `"inputs":1`)
}
