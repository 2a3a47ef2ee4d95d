package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("45m")))
	assert.Equal(t, 45*time.Minute, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")), "negative durations are rejected")
	assert.Error(t, d.UnmarshalText([]byte("soon")), "garbage is rejected")
}

func TestDuration_Marshal(t *testing.T) {
	d := Duration(90 * time.Second)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", s.GoString())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-super-secret", s.Value(), "Value exposes the raw secret")
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	text, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", string(text))
}

func TestSecret_EmptyStaysEmpty(t *testing.T) {
	var s Secret

	assert.Equal(t, "", s.String())
	assert.False(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `""`, string(data))
}

func TestSecret_Unmarshal(t *testing.T) {
	var s Secret
	require.NoError(t, s.UnmarshalText([]byte("sk-raw")))
	assert.Equal(t, "sk-raw", s.Value())

	var fromJSON Secret
	require.NoError(t, json.Unmarshal([]byte(`"sk-json"`), &fromJSON))
	assert.Equal(t, "sk-json", fromJSON.Value())
}

func TestSecret_RedactedInMarshaledConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Agents.APIKey = "sk-super-secret"
	cfg.Jobs.Token = "pat-super-secret"

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "sk-super-secret")
	assert.NotContains(t, string(data), "pat-super-secret")
	assert.Contains(t, string(data), "[REDACTED]")
}
