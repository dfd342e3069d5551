package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 104, cfg.SCP.Port)
	assert.Equal(t, 10, cfg.SCP.MaximumNumberOfAssociations)
	assert.True(t, cfg.SCP.VerificationEnabled)
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	cfg := defaultConfig()
	cfg.SCP.Port = 70000
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scp.port")
}

func TestValidate_RejectsMaxAssociationsOutOfRange(t *testing.T) {
	cfg := defaultConfig()
	cfg.SCP.MaximumNumberOfAssociations = 0
	require.Error(t, Validate(cfg))

	cfg = defaultConfig()
	cfg.SCU.MaximumNumberOfAssociations = 1001
	require.Error(t, Validate(cfg))
}

func TestValidate_RejectsFailureThresholdOutOfRange(t *testing.T) {
	cfg := defaultConfig()
	cfg.SCU.Export.FailureThreshold = 1.5
	require.Error(t, Validate(cfg))

	cfg = defaultConfig()
	cfg.SCU.Export.FailureThreshold = -0.1
	require.Error(t, Validate(cfg))
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	assert.NoError(t, Validate(defaultConfig()))
}

func TestValidate_RejectsHTTPPortOutOfRange(t *testing.T) {
	cfg := defaultConfig()
	cfg.HTTP.Port = 0
	require.Error(t, Validate(cfg))
}

func TestValidate_RejectsUnknownExportTarget(t *testing.T) {
	cfg := defaultConfig()
	cfg.SCU.Export.Target = "ftp"
	require.Error(t, Validate(cfg))
}

func TestValidate_RejectsDICOMwebTargetWithoutRoot(t *testing.T) {
	cfg := defaultConfig()
	cfg.SCU.Export.Target = "dicomweb"
	require.Error(t, Validate(cfg))

	cfg.SCU.Export.DICOMwebRoot = "https://example.test/dicomweb"
	require.NoError(t, Validate(cfg))
}

func TestLoad_DatabaseDSNDefaultsEmpty(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Empty(t, cfg.Database.DSN)
	assert.Equal(t, 8088, cfg.HTTP.Port)
}

func TestExportPollInterval(t *testing.T) {
	cfg := defaultConfig()
	cfg.SCU.Export.PollFrequencyMs = 2500
	assert.Equal(t, int64(2500), cfg.ExportPollInterval().Milliseconds())
}
