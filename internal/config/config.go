package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vulcan-sns/vulcan-reduce/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Instrument InstrumentConfig `yaml:"instrument" mapstructure:"instrument"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Binning    BinningConfig    `yaml:"binning" mapstructure:"binning"`
	Vanadium   VanadiumConfig   `yaml:"vanadium" mapstructure:"vanadium"`
	Record     RecordConfig     `yaml:"record" mapstructure:"record"`
	Journal    JournalConfig    `yaml:"journal" mapstructure:"journal"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// InstrumentConfig describes the instrument and its directory conventions.
type InstrumentConfig struct {
	Name             string   `yaml:"name" mapstructure:"name"`
	DataRoot         string   `yaml:"data_root" mapstructure:"data_root"`
	AutoDirName      string   `yaml:"auto_dir_name" mapstructure:"auto_dir_name"`
	ManualDirName    string   `yaml:"manual_dir_name" mapstructure:"manual_dir_name"`
	EraTable         string   `yaml:"era_table" mapstructure:"era_table"`
	FocusBanks       int      `yaml:"focus_banks" mapstructure:"focus_banks"`
	AlignmentMarkers []string `yaml:"alignment_markers" mapstructure:"alignment_markers"`
	GSASParamFile    string   `yaml:"gsas_param_file" mapstructure:"gsas_param_file"`
}

// EngineConfig configures the external reduction engine.
type EngineConfig struct {
	Path             string `yaml:"path" mapstructure:"path"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts    int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs   int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
}

// BinningConfig configures reduction and export binning.
type BinningConfig struct {
	Reduce        model.BinParams `yaml:"reduce" mapstructure:"reduce"`
	Fallback      model.BinParams `yaml:"fallback" mapstructure:"fallback"`
	HighAngleStep float64         `yaml:"high_angle_step" mapstructure:"high_angle_step"`
	VDriveBinFile string          `yaml:"vdrive_bin_file" mapstructure:"vdrive_bin_file"`
}

// CriterionConfig is one vanadium matching criterion.
type CriterionConfig struct {
	LogName string `yaml:"log_name" mapstructure:"log_name"`
	Type    string `yaml:"type" mapstructure:"type"`
}

// VanadiumConfig configures vanadium matching and normalization.
type VanadiumConfig struct {
	GSASDir    string            `yaml:"gsas_dir" mapstructure:"gsas_dir"`
	Tag        string            `yaml:"tag" mapstructure:"tag"`
	RecordFile string            `yaml:"record_file" mapstructure:"record_file"`
	Criteria   []CriterionConfig `yaml:"criteria" mapstructure:"criteria"`
}

// RecordConfig configures experiment-log record files.
type RecordConfig struct {
	FileName          string `yaml:"file_name" mapstructure:"file_name"`
	AlignmentFileName string `yaml:"alignment_file_name" mapstructure:"alignment_file_name"`
	DataFileName      string `yaml:"data_file_name" mapstructure:"data_file_name"`
	StandardsDir      string `yaml:"standards_dir" mapstructure:"standards_dir"`
	LockTimeoutSecs   int    `yaml:"lock_timeout_secs" mapstructure:"lock_timeout_secs"`
	XLSXMirror        bool   `yaml:"xlsx_mirror" mapstructure:"xlsx_mirror"`
}

// JournalConfig configures the reduction job journal.
type JournalConfig struct {
	Driver         string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL    string `yaml:"database_url" mapstructure:"database_url"`
	DLQMaxRetries  int    `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
	DLQBackoffSecs int    `yaml:"dlq_backoff_secs" mapstructure:"dlq_backoff_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. An empty path searches
// the working directory for config.yaml; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("VULCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("instrument.name", "VULCAN")
	v.SetDefault("instrument.data_root", "/SNS/VULCAN")
	v.SetDefault("instrument.auto_dir_name", "autoreduce")
	v.SetDefault("instrument.manual_dir_name", "manualreduce")
	v.SetDefault("instrument.era_table", "")
	v.SetDefault("instrument.focus_banks", 3)
	v.SetDefault("instrument.alignment_markers", []string{"Align", "align", "ALIGN"})
	v.SetDefault("instrument.gsas_param_file", "vulcan.prm")
	v.SetDefault("engine.path", "vulcan-engine")
	v.SetDefault("engine.timeout_secs", 3600)
	v.SetDefault("engine.retry_attempts", 2)
	v.SetDefault("engine.retry_backoff_ms", 2000)
	v.SetDefault("engine.breaker_threshold", 3)
	v.SetDefault("binning.reduce.min", 0.3)
	v.SetDefault("binning.reduce.step", -0.001)
	v.SetDefault("binning.reduce.max", 5.0)
	v.SetDefault("binning.fallback.min", 5000.0)
	v.SetDefault("binning.fallback.step", -0.001)
	v.SetDefault("binning.fallback.max", 70000.0)
	v.SetDefault("binning.high_angle_step", -0.0003)
	v.SetDefault("binning.vdrive_bin_file", "")
	v.SetDefault("vanadium.gsas_dir", "/SNS/VULCAN/shared/Calibrationfiles/Instrument/Standard/Vanadium")
	v.SetDefault("vanadium.tag", "s")
	v.SetDefault("vanadium.record_file", "")
	v.SetDefault("vanadium.criteria", []map[string]any{
		{"log_name": "Frequency", "type": "float"},
		{"log_name": "Guide", "type": "float"},
		{"log_name": "Collimator", "type": "float"},
	})
	v.SetDefault("record.file_name", "AutoRecord.txt")
	v.SetDefault("record.alignment_file_name", "AutoRecordAlign.txt")
	v.SetDefault("record.data_file_name", "AutoRecordData.txt")
	v.SetDefault("record.standards_dir", "/SNS/VULCAN/shared/Calibrationfiles/Instrument/Standard")
	v.SetDefault("record.lock_timeout_secs", 10)
	v.SetDefault("record.xlsx_mirror", false)
	v.SetDefault("journal.driver", "sqlite")
	v.SetDefault("journal.database_url", "vulcan-reduce.db")
	v.SetDefault("journal.dlq_max_retries", 3)
	v.SetDefault("journal.dlq_backoff_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	var problems []string
	switch c.Instrument.FocusBanks {
	case 3, 7, 27:
	default:
		problems = append(problems, "instrument.focus_banks must be 3, 7 or 27")
	}
	if c.Engine.Path == "" {
		problems = append(problems, "engine.path is required")
	}
	if c.Engine.TimeoutSecs <= 0 {
		problems = append(problems, "engine.timeout_secs must be positive")
	}
	if c.Binning.Fallback.Min >= c.Binning.Fallback.Max {
		problems = append(problems, "binning.fallback.min must be below binning.fallback.max")
	}
	for i, cr := range c.Vanadium.Criteria {
		switch cr.Type {
		case "int", "float", "str":
		default:
			problems = append(problems, fmt.Sprintf("vanadium.criteria[%d].type %q must be int, float or str", i, cr.Type))
		}
	}
	switch c.Journal.Driver {
	case "sqlite", "postgres", "none":
	default:
		problems = append(problems, "journal.driver must be sqlite, postgres or none")
	}
	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
