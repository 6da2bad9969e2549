// Package config provides configuration management for the s1ard pipeline.
//
// The processing configuration lives in a YAML (or JSON) file loaded with
// viper; credentials and directory overrides come from environment variables.
// The resulting Config value is immutable for the duration of a batch run and
// is passed explicitly into every component constructor.
package config

import (
	"fmt"
	"math"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds the complete pipeline configuration.
type Config struct {
	// Directory layout. ProcessingDir holds one subtree per spatial unit;
	// TempDir holds per-chain scratch directories; DownloadDir holds the
	// original scene archives.
	ProcessingDir string `mapstructure:"processing_dir" validate:"required"`
	TempDir       string `mapstructure:"temp_dir" validate:"required"`
	DownloadDir   string `mapstructure:"download_dir"`

	// External SAR toolchain.
	GPTPath  string `mapstructure:"gpt_path"`
	GraphDir string `mapstructure:"graph_dir"`

	// Concurrency. GPTMaxWorkers is the legacy name for the inner
	// tool-thread budget; 0 means derive it from the unit count.
	GPTMaxWorkers   int    `mapstructure:"gpt_max_workers" validate:"gte=0"`
	MaxOuterWorkers int    `mapstructure:"max_outer_workers" validate:"gte=0"`
	Executor        string `mapstructure:"executor" validate:"oneof=serial threads processes"`

	// Optional AOI subset as WKT POLYGON.
	Subset string `mapstructure:"subset"`

	// Whether a mosaic group with exactly one contributor is copied
	// forward instead of skipped.
	CopySingleContributor bool `mapstructure:"copy_single_contributor"`

	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Download DownloadConfig `mapstructure:"download"`
	Status   StatusConfig   `mapstructure:"status"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	Processing ARDParams `mapstructure:"processing"`
}

// CatalogConfig contains catalogue search client configuration.
type CatalogConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Timeout string `mapstructure:"timeout"`
}

// DownloadConfig contains scene download configuration. Credentials are
// environment-only so they never end up in a config file on disk.
type DownloadConfig struct {
	Username    string `mapstructure:"-" env:"EARTHDATA_USERNAME"`
	Password    string `mapstructure:"-" env:"EARTHDATA_PASSWORD"`
	Concurrency int    `mapstructure:"concurrency" validate:"gte=0"`
	MaxRetries  int    `mapstructure:"max_retries" validate:"gte=1"`
}

// StatusConfig contains the progress HTTP server configuration.
type StatusConfig struct {
	Listen string `mapstructure:"listen"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// ARDParams is the immutable-for-the-run processing parameter tree.
type ARDParams struct {
	SingleARD  SingleARD  `mapstructure:"single_ARD"`
	TimeSeries TimeSeries `mapstructure:"time-series_ARD"`
	TimeScan   TimeScan   `mapstructure:"time-scan_ARD"`
}

// SingleARD controls per-scene processing.
type SingleARD struct {
	ProductType       string        `mapstructure:"product_type" validate:"oneof=GTC-sigma0 GTC-gamma0 RTC-gamma0"`
	Polarisation      string        `mapstructure:"polarisation" validate:"required"`
	Resolution        int           `mapstructure:"resolution" validate:"gte=10"`
	Backscatter       bool          `mapstructure:"backscatter"`
	ToDB              bool          `mapstructure:"to_db"`
	RemoveBorderNoise bool          `mapstructure:"remove_border_noise"`
	RemoveSpeckle     bool          `mapstructure:"remove_speckle"`
	SpeckleFilter     SpeckleFilter `mapstructure:"speckle_filter"`
	CreateLSMask      bool          `mapstructure:"create_ls_mask"`

	Coherence      bool   `mapstructure:"coherence"`
	CoherenceBands string `mapstructure:"coherence_bands"`
	CohAzWindow    int    `mapstructure:"coherence_az_window"`
	CohRgWindow    int    `mapstructure:"coherence_rg_window"`

	HAAlpha          bool          `mapstructure:"h_a_alpha"`
	RemovePolSpeckle bool          `mapstructure:"remove_pol_speckle"`
	PolSpeckleFilter SpeckleFilter `mapstructure:"pol_speckle_filter"`

	DEM DEMParams `mapstructure:"dem"`
}

// SpeckleFilter holds the parameters of SNAP's speckle filter operators.
type SpeckleFilter struct {
	Filter           string  `mapstructure:"filter"`
	FilterXSize      int     `mapstructure:"filter_x_size"`
	FilterYSize      int     `mapstructure:"filter_y_size"`
	ENL              float64 `mapstructure:"ENL"`
	EstimateENL      bool    `mapstructure:"estimate_ENL"`
	PanSize          int     `mapstructure:"pan_size"`
	Damping          int     `mapstructure:"damping"`
	NumLooks         int     `mapstructure:"num_of_looks"`
	Sigma            float64 `mapstructure:"sigma"`
	TargetWindowSize int     `mapstructure:"target_window_size"`
	WindowSize       string  `mapstructure:"window_size"`
}

// DEMParams selects the elevation model used for terrain correction.
type DEMParams struct {
	Name          string  `mapstructure:"dem_name"`
	File          string  `mapstructure:"dem_file"`
	NoData        float64 `mapstructure:"dem_nodata"`
	Resampling    string  `mapstructure:"dem_resampling"`
	ImgResampling string  `mapstructure:"image_resampling"`
	EGMCorrection bool    `mapstructure:"egm_correction"`
}

// TimeSeries controls multi-temporal processing.
type TimeSeries struct {
	RemoveMTSpeckle bool          `mapstructure:"remove_mt_speckle"`
	MTSpeckleFilter SpeckleFilter `mapstructure:"mt_speckle_filter"`
	DTypeOutput     string        `mapstructure:"dtype_output" validate:"oneof=float32 uint16 uint8"`
	ToDB            bool          `mapstructure:"to_db"`
}

// TimeScan controls the temporal reduction.
type TimeScan struct {
	Metrics        []string `mapstructure:"metrics"`
	RemoveOutliers bool     `mapstructure:"remove_outliers"`
}

// SRTM has no coverage beyond this latitude; geocoding switches to a
// coarser global DEM there.
const srtmLatLimit = 59.0

// Load reads the configuration file at path, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("S1ARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	// Credentials come from the environment only.
	if err := env.Parse(&cfg.Download); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("temp_dir", "/tmp")
	v.SetDefault("gpt_path", "gpt")
	v.SetDefault("graph_dir", "graphs")
	v.SetDefault("gpt_max_workers", 0)
	v.SetDefault("max_outer_workers", runtime.NumCPU())
	v.SetDefault("executor", "threads")
	v.SetDefault("copy_single_contributor", false)

	v.SetDefault("catalog.base_url", "https://api.daac.asf.alaska.edu")
	v.SetDefault("catalog.timeout", "30s")
	v.SetDefault("download.concurrency", 2)
	v.SetDefault("download.max_retries", 5)
	v.SetDefault("status.listen", ":8741")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("processing.single_ARD.product_type", "GTC-gamma0")
	v.SetDefault("processing.single_ARD.polarisation", "VV VH")
	v.SetDefault("processing.single_ARD.resolution", 20)
	v.SetDefault("processing.single_ARD.backscatter", true)
	v.SetDefault("processing.single_ARD.remove_border_noise", true)
	v.SetDefault("processing.single_ARD.remove_speckle", false)
	v.SetDefault("processing.single_ARD.create_ls_mask", false)
	v.SetDefault("processing.single_ARD.coherence", false)
	v.SetDefault("processing.single_ARD.coherence_bands", "VV VH")
	v.SetDefault("processing.single_ARD.coherence_az_window", 3)
	v.SetDefault("processing.single_ARD.coherence_rg_window", 10)
	v.SetDefault("processing.single_ARD.dem.dem_name", "SRTM 1Sec HGT")
	v.SetDefault("processing.single_ARD.dem.dem_nodata", 0.0)
	v.SetDefault("processing.single_ARD.dem.dem_resampling", "BILINEAR_INTERPOLATION")
	v.SetDefault("processing.single_ARD.dem.image_resampling", "BICUBIC_INTERPOLATION")
	v.SetDefault("processing.single_ARD.dem.egm_correction", true)

	v.SetDefault("processing.time-series_ARD.remove_mt_speckle", true)
	v.SetDefault("processing.time-series_ARD.dtype_output", "float32")
	v.SetDefault("processing.time-series_ARD.to_db", false)

	v.SetDefault("processing.time-scan_ARD.metrics", []string{"avg", "max", "min", "std"})
	v.SetDefault("processing.time-scan_ARD.remove_outliers", true)
}

var validMetrics = map[string]bool{
	"avg": true, "max": true, "min": true, "std": true,
	"p5": true, "p95": true, "percentiles": true,
	"amplitude": true, "phase": true, "residuals": true, "harmonics": true,
}

var validPols = map[string]bool{"VV": true, "VH": true, "HH": true, "HV": true}

// Validate checks the configuration for invalid combinations. Validation
// failures are fatal to the whole invocation: they indicate a configuration
// mistake, not a transient condition.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	for _, pol := range strings.Fields(c.Processing.SingleARD.Polarisation) {
		if !validPols[pol] {
			return fmt.Errorf("unsupported polarisation %q", pol)
		}
	}
	if c.Processing.SingleARD.Coherence {
		for _, pol := range strings.Fields(c.Processing.SingleARD.CoherenceBands) {
			if !validPols[pol] {
				return fmt.Errorf("unsupported coherence band %q", pol)
			}
		}
	}

	for _, m := range c.Processing.TimeScan.Metrics {
		if !validMetrics[m] {
			return fmt.Errorf("unsupported timescan metric %q", m)
		}
	}

	if !c.Processing.SingleARD.Backscatter &&
		!c.Processing.SingleARD.Coherence &&
		!c.Processing.SingleARD.HAAlpha {
		return fmt.Errorf("no product family requested: enable at least one of backscatter, coherence, h_a_alpha")
	}

	return nil
}

// CalibrationTarget maps the requested product type onto the calibration
// the chain must apply. RTC products calibrate to beta0 first and are
// terrain-flattened to gamma0 later.
func (s *SingleARD) CalibrationTarget() (string, error) {
	switch s.ProductType {
	case "GTC-sigma0":
		return "sigma0", nil
	case "GTC-gamma0":
		return "gamma0", nil
	case "RTC-gamma0":
		return "beta0", nil
	default:
		return "", fmt.Errorf("wrong ARD product type %q", s.ProductType)
	}
}

// MultiLookFactor returns the look factor for GRD multi-looking, 1 when no
// multi-looking applies.
func (s *SingleARD) MultiLookFactor() int {
	factor := s.Resolution / 10
	if factor < 2 {
		return 1
	}
	return factor
}

// DEMForLatitude returns the DEM parameters adjusted for the scene center
// latitude: beyond the SRTM coverage limit the coarser GETASSE30 model is
// used instead. An externally supplied DEM file always wins.
func (s *SingleARD) DEMForLatitude(lat float64) DEMParams {
	dem := s.DEM
	if dem.File != "" {
		return dem
	}
	if math.Abs(lat) > srtmLatLimit && strings.HasPrefix(dem.Name, "SRTM") {
		dem.Name = "GETASSE30"
	}
	return dem
}

// PolarisationList returns the requested polarisations as a slice.
func (s *SingleARD) PolarisationList() []string {
	return strings.Fields(s.Polarisation)
}

// CoherenceBandList returns the requested coherence bands as a slice.
func (s *SingleARD) CoherenceBandList() []string {
	return strings.Fields(s.CoherenceBands)
}
