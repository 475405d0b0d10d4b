package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Databricks domain suffixes for URL detection
var databricksDomains = []string{
	".cloud.databricks.com",
	".azuredatabricks.net",
	".gcp.databricks.com",
}

// Config holds the run-tracker settings. They come from global flags and MLFLOW_* / DATABRICKS_*
// environment variables; the run configuration itself lives in Params.
type Config struct {
	TrackingURI     string
	ExperimentID    string
	RunName         string
	DatabricksHost  string
	DatabricksToken string
}

func New() *Config {
	return &Config{
		TrackingURI:     viper.GetString("tracking_uri"),
		ExperimentID:    viper.GetString("experiment_id"),
		RunName:         viper.GetString("run_name"),
		DatabricksHost:  viper.GetString("databricks_host"),
		DatabricksToken: viper.GetString("databricks_token"),
	}
}

// Enabled reports whether a tracker was configured at all. Training without a tracking URI is
// valid: nothing is logged remotely and no artifact is registered.
func (c *Config) Enabled() bool {
	return c.TrackingURI != ""
}

func (c *Config) Validate() error {
	if c.TrackingURI == "" {
		return fmt.Errorf("tracking URI is required")
	}

	if c.ExperimentID == "" {
		return fmt.Errorf("experiment ID must be specified via --experiment-id flag or MLFLOW_EXPERIMENT_ID environment variable")
	}

	return nil
}

// IsLocal checks if the tracking URI points to an MLflow file store
func (c *Config) IsLocal() bool {
	return strings.HasPrefix(c.TrackingURI, "file://") || strings.HasPrefix(c.TrackingURI, "/") ||
		strings.HasPrefix(c.TrackingURI, "./")
}

// LocalPath returns the file store root for a local tracking URI
func (c *Config) LocalPath() string {
	return strings.TrimPrefix(c.TrackingURI, "file://")
}

// IsDatabricks checks if the tracking URI points to Databricks
func (c *Config) IsDatabricks() bool {
	if c.TrackingURI == "databricks" {
		return true
	}

	if strings.HasPrefix(c.TrackingURI, "databricks://") {
		return true
	}

	if strings.HasPrefix(c.TrackingURI, "https://") {
		host := c.extractHostFromURL(c.TrackingURI)
		return c.isDatabricksHost(host)
	}

	return false
}

// extractHostFromURL extracts the hostname from a URL
func (c *Config) extractHostFromURL(url string) string {
	host := strings.TrimPrefix(url, "https://")
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	return host
}

func (c *Config) isDatabricksHost(host string) bool {
	for _, domain := range databricksDomains {
		if strings.HasSuffix(host, domain) {
			return true
		}
	}
	return false
}

// GetDatabricksProfile extracts the profile name from databricks://{profile} URI
func (c *Config) GetDatabricksProfile() string {
	if !strings.HasPrefix(c.TrackingURI, "databricks://") {
		return ""
	}

	profile := strings.TrimPrefix(c.TrackingURI, "databricks://")
	if idx := strings.Index(profile, "/"); idx != -1 {
		profile = profile[:idx]
	}
	return profile
}
