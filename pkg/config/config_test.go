package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, dir string, body map[string]any) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	data, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, map[string]any{
		"ft8": map[string]any{"myCallsign": "AA1AA", "myGrid": "FN42"},
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 48000, cfg.Audio.SampleRate)
	require.Equal(t, 768, cfg.Audio.BufferSize)
	require.Equal(t, 2442, cfg.Server.Port)
	require.Equal(t, "none", cfg.Radio.Type)
	require.Equal(t, "AA1AA", cfg.FT8.MyCallsign)
}

func TestValidateRejectsUnknownRadioType(t *testing.T) {
	cfg := Default()
	cfg.Radio.Type = "carrier-pigeon"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateOperatorIDs(t *testing.T) {
	cfg := Default()
	cfg.Operators = []OperatorConfig{
		{ID: "op1", Mode: "FT8"},
		{ID: "op1", Mode: "FT4"},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownOperatorMode(t *testing.T) {
	cfg := Default()
	cfg.Operators = []OperatorConfig{{ID: "op1", Mode: "JT65"}}
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresSerialPathForSerialTransport(t *testing.T) {
	cfg := Default()
	cfg.Radio.Type = "serial"
	require.Error(t, cfg.Validate())

	cfg.Radio.Serial = &SerialRadioConfig{Path: "/dev/ttyUSB0", RigModel: "1035"}
	require.NoError(t, cfg.Validate())
}

func TestMigrateLegacyRadioFieldsRewritesFlatFields(t *testing.T) {
	raw := []byte(`{"radio":{"host":"192.168.1.50","port":4532}}`)

	migrated, changed, err := MigrateLegacyRadioFields(raw)
	require.NoError(t, err)
	require.True(t, changed)

	var cfg Config
	require.NoError(t, json.Unmarshal(migrated, &cfg))
	require.Equal(t, "network", cfg.Radio.Type)
	require.NotNil(t, cfg.Radio.Network)
	require.Equal(t, "192.168.1.50", cfg.Radio.Network.Host)
	require.Equal(t, 4532, cfg.Radio.Network.Port)
	require.Empty(t, cfg.Radio.LegacyHost)
}

func TestMigrateLegacyRadioFieldsNoOpOnNestedConfig(t *testing.T) {
	raw := []byte(`{"radio":{"type":"network","network":{"host":"10.0.0.1","port":4532}}}`)

	_, changed, err := MigrateLegacyRadioFields(raw)
	require.NoError(t, err)
	require.False(t, changed, "already-nested config must not be rewritten")
}

func TestMigrateLegacyRadioFieldsNoOpWithoutRadioSection(t *testing.T) {
	raw := []byte(`{"ft8":{"myCallsign":"AA1AA"}}`)

	_, changed, err := MigrateLegacyRadioFields(raw)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestLoadConfigMigratesAndBacksUpLegacyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, map[string]any{
		"radio": map[string]any{"ip": "192.168.1.10", "wlanPort": 50001},
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "icom-wlan", cfg.Radio.Type)
	require.NotNil(t, cfg.Radio.IcomWLAN)
	require.Equal(t, "192.168.1.10", cfg.Radio.IcomWLAN.IP)

	_, err = os.Stat(path + ".backup")
	require.NoError(t, err, "expected a .backup copy of the pre-migration file")
}

func TestSaveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.FT8.MyCallsign = "AA1AA"
	require.NoError(t, cfg.Save(path))

	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "AA1AA", reloaded.FT8.MyCallsign)
}
