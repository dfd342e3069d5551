// Package config loads and validates the process-wide Configuration
// table from a YAML file plus environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nvidia-clara/dicom-adapter/errors"
)

// SCPConfig controls the DIMSE SCP listener and admission policy.
type SCPConfig struct {
	Port                       int      `mapstructure:"port"`
	MaximumNumberOfAssociations int     `mapstructure:"maximumNumberOfAssociations"`
	VerificationEnabled        bool     `mapstructure:"verification_enabled"`
	VerificationTransferSyntaxes []string `mapstructure:"verification_transferSyntaxes"`
	LogDimseDatasets           bool     `mapstructure:"logDimseDatasets"`
	RejectUnknownSources       bool     `mapstructure:"rejectUnknownSources"`
}

// ExportConfig controls the outbound export pipeline's retry and
// polling behavior.
type ExportConfig struct {
	MaximumRetries   int     `mapstructure:"maximumRetries"`
	FailureThreshold float64 `mapstructure:"failureThreshold"`
	PollFrequencyMs  int     `mapstructure:"pollFrequencyMs"`
	// Agent names this process's export worker to the results service
	// (platform.Results.GetPending's agent filter).
	Agent string `mapstructure:"agent"`
	// Target selects the §4.7 export variant: "scu" (DIMSE C-STORE,
	// per-task destination lookup) or "dicomweb" (STOW-RS against
	// DICOMwebRoot).
	Target      string `mapstructure:"target"`
	DICOMwebRoot string `mapstructure:"dicomWebRoot"`
}

// SCUConfig controls the outbound DIMSE SCU used by the export
// pipeline.
type SCUConfig struct {
	AETitle                     string       `mapstructure:"aeTitle"`
	MaximumNumberOfAssociations int          `mapstructure:"maximumNumberOfAssociations"`
	Export                      ExportConfig `mapstructure:"export"`
}

// StorageConfig names the root directory for staged instance files.
type StorageConfig struct {
	Temporary string `mapstructure:"temporary"`
}

// PlatformConfig addresses the external job-execution platform and
// results service; each pair is overridable by the environment
// variables named in spec.md §6.
type PlatformConfig struct {
	ServiceHost           string `mapstructure:"serviceHost"`
	ServicePortAPI        string `mapstructure:"servicePortApi"`
	ResultsServiceHost    string `mapstructure:"resultsServiceHost"`
	ResultsServicePort    string `mapstructure:"resultsServicePort"`
}

// DatabaseConfig addresses the Postgres-backed AE/request/job
// repository. An empty DSN selects the in-memory repository, useful
// for local evaluation without a database.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// HTTPConfig controls the §6 HTTP surface's listen address.
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Config is the validated process-wide configuration table.
type Config struct {
	SCP      SCPConfig      `mapstructure:"scp"`
	SCU      SCUConfig      `mapstructure:"scu"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Platform PlatformConfig `mapstructure:"platform"`
	Database DatabaseConfig `mapstructure:"database"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

func defaultConfig() *Config {
	return &Config{
		SCP: SCPConfig{
			Port:                        104,
			MaximumNumberOfAssociations: 10,
			VerificationEnabled:         true,
			VerificationTransferSyntaxes: []string{"1.2.840.10008.1.2"},
			LogDimseDatasets:            false,
			RejectUnknownSources:        false,
		},
		SCU: SCUConfig{
			AETitle:                     "CLARA-SCU",
			MaximumNumberOfAssociations: 4,
			Export: ExportConfig{
				MaximumRetries:   3,
				FailureThreshold: 0.1,
				PollFrequencyMs:  5000,
				Agent:            "scu-exporter",
				Target:           "scu",
			},
		},
		Storage: StorageConfig{
			Temporary: "/tmp/clara-dicom-adapter",
		},
		Platform: PlatformConfig{
			ServiceHost:        "localhost",
			ServicePortAPI:     "8080",
			ResultsServiceHost: "localhost",
			ResultsServicePort: "8081",
		},
		HTTP: HTTPConfig{
			Port: 8088,
		},
	}
}

// Load reads configuration from the YAML file at path (if present),
// applies CLARA_* environment overrides, and validates the result.
// A validation failure is a Fatal error: no DIMSE/HTTP surface can be
// correctly served on an invalid config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	def := defaultConfig()
	v.SetDefault("scp.port", def.SCP.Port)
	v.SetDefault("scp.maximumNumberOfAssociations", def.SCP.MaximumNumberOfAssociations)
	v.SetDefault("scp.verification_enabled", def.SCP.VerificationEnabled)
	v.SetDefault("scp.verification_transferSyntaxes", def.SCP.VerificationTransferSyntaxes)
	v.SetDefault("scp.logDimseDatasets", def.SCP.LogDimseDatasets)
	v.SetDefault("scp.rejectUnknownSources", def.SCP.RejectUnknownSources)
	v.SetDefault("scu.aeTitle", def.SCU.AETitle)
	v.SetDefault("scu.maximumNumberOfAssociations", def.SCU.MaximumNumberOfAssociations)
	v.SetDefault("scu.export.maximumRetries", def.SCU.Export.MaximumRetries)
	v.SetDefault("scu.export.failureThreshold", def.SCU.Export.FailureThreshold)
	v.SetDefault("scu.export.pollFrequencyMs", def.SCU.Export.PollFrequencyMs)
	v.SetDefault("scu.export.agent", def.SCU.Export.Agent)
	v.SetDefault("scu.export.target", def.SCU.Export.Target)
	v.SetDefault("scu.export.dicomWebRoot", def.SCU.Export.DICOMwebRoot)
	v.SetDefault("storage.temporary", def.Storage.Temporary)
	v.SetDefault("platform.serviceHost", def.Platform.ServiceHost)
	v.SetDefault("platform.servicePortApi", def.Platform.ServicePortAPI)
	v.SetDefault("platform.resultsServiceHost", def.Platform.ResultsServiceHost)
	v.SetDefault("platform.resultsServicePort", def.Platform.ResultsServicePort)
	v.SetDefault("database.dsn", def.Database.DSN)
	v.SetDefault("http.port", def.HTTP.Port)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, errors.NewFatalError("config.Load", fmt.Errorf("read config file %s: %w", path, err))
		}
	}

	// CLARA_SERVICE_HOST / CLARA_SERVICE_PORT_API / CLARA_RESULTSSERVICE_SERVICE_HOST
	// / CLARA_RESULTSSERVICE_SERVICE_PORT override the platform/results
	// endpoints per spec.md §6; bind them explicitly since their names
	// don't follow the dotted-key-to-underscore convention used
	// elsewhere.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("platform.serviceHost", "CLARA_SERVICE_HOST")
	_ = v.BindEnv("platform.servicePortApi", "CLARA_SERVICE_PORT_API")
	_ = v.BindEnv("platform.resultsServiceHost", "CLARA_RESULTSSERVICE_SERVICE_HOST")
	_ = v.BindEnv("platform.resultsServicePort", "CLARA_RESULTSSERVICE_SERVICE_PORT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewFatalError("config.Load", fmt.Errorf("unmarshal config: %w", err))
	}

	if err := Validate(&cfg); err != nil {
		return nil, errors.NewFatalError("config.Load", err)
	}

	return &cfg, nil
}

// Validate checks the Configuration table's range constraints from
// spec.md §3.
func Validate(cfg *Config) error {
	if cfg.SCP.Port < 1 || cfg.SCP.Port > 65535 {
		return fmt.Errorf("scp.port must be 1..65535, got %d", cfg.SCP.Port)
	}
	if cfg.SCP.MaximumNumberOfAssociations < 1 || cfg.SCP.MaximumNumberOfAssociations > 1000 {
		return fmt.Errorf("scp.maximumNumberOfAssociations must be 1..1000, got %d", cfg.SCP.MaximumNumberOfAssociations)
	}
	if cfg.SCU.MaximumNumberOfAssociations < 1 || cfg.SCU.MaximumNumberOfAssociations > 1000 {
		return fmt.Errorf("scu.maximumNumberOfAssociations must be 1..1000, got %d", cfg.SCU.MaximumNumberOfAssociations)
	}
	if cfg.SCU.Export.FailureThreshold < 0.0 || cfg.SCU.Export.FailureThreshold > 1.0 {
		return fmt.Errorf("scu.export.failureThreshold must be 0.0..1.0, got %f", cfg.SCU.Export.FailureThreshold)
	}
	if cfg.SCU.Export.MaximumRetries < 0 {
		return fmt.Errorf("scu.export.maximumRetries must be >= 0, got %d", cfg.SCU.Export.MaximumRetries)
	}
	if cfg.SCU.Export.PollFrequencyMs < 1 {
		return fmt.Errorf("scu.export.pollFrequencyMs must be >= 1, got %d", cfg.SCU.Export.PollFrequencyMs)
	}
	if cfg.Storage.Temporary == "" {
		return fmt.Errorf("storage.temporary must not be empty")
	}
	if cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be 1..65535, got %d", cfg.HTTP.Port)
	}
	switch cfg.SCU.Export.Target {
	case "scu":
	case "dicomweb":
		if cfg.SCU.Export.DICOMwebRoot == "" {
			return fmt.Errorf("scu.export.dicomWebRoot must be set when scu.export.target is \"dicomweb\"")
		}
	default:
		return fmt.Errorf("scu.export.target must be \"scu\" or \"dicomweb\", got %q", cfg.SCU.Export.Target)
	}
	return nil
}

// ExportPollInterval returns scu.export.pollFrequencyMs as a
// time.Duration for use in the export pipeline's ticker.
func (c *Config) ExportPollInterval() time.Duration {
	return time.Duration(c.SCU.Export.PollFrequencyMs) * time.Millisecond
}
