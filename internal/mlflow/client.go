package mlflow

import (
	"fmt"
	"net/http"
	"time"

	"github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/httpclient"

	"github.com/imishinist/mlproject/internal/config"
)

// uploadTimeout bounds a single artifact upload; checkpoints can be large.
const uploadTimeout = 30 * time.Minute

// Client talks to an MLflow tracking server, either a plain MLflow REST server or a Databricks
// workspace, through the Databricks SDK.
type Client struct {
	client    *databricks.WorkspaceClient
	apiClient *httpclient.ApiClient
	config    *config.Config

	// httpClient uploads artifacts outside the SDK (proxied artifacts, signed URIs).
	httpClient *http.Client
}

func NewClient(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	databricksConfig, err := sdkConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := databricks.NewWorkspaceClient(databricksConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create MLflow client: %w", err)
	}

	c := &Client{
		client:     client,
		config:     cfg,
		httpClient: &http.Client{Timeout: uploadTimeout},
	}
	// The raw API client is only needed for the DBFS credentials-for-write endpoint.
	if cfg.IsDatabricks() {
		apiClient, err := client.Config.NewApiClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create Databricks API client: %w", err)
		}
		c.apiClient = apiClient
	}
	return c, nil
}

// sdkConfig maps the tracking settings to a Databricks SDK configuration.
func sdkConfig(cfg *config.Config) (*databricks.Config, error) {
	if !cfg.IsDatabricks() {
		return &databricks.Config{
			Host: cfg.TrackingURI,
			// Regular MLflow servers do not authenticate; the SDK still wants credentials.
			Token: "dummy-token-for-regular-mlflow",
		}, nil
	}

	databricksConfig := &databricks.Config{}
	switch profile := cfg.GetDatabricksProfile(); {
	case cfg.TrackingURI == "databricks":
		databricksConfig.Host = cfg.DatabricksHost
	case profile != "":
		databricksConfig.Profile = profile
	default:
		databricksConfig.Host = cfg.TrackingURI
	}
	// Token overrides the profile
	if cfg.DatabricksToken != "" {
		databricksConfig.Token = cfg.DatabricksToken
	}
	if databricksConfig.Host == "" && databricksConfig.Profile == "" {
		return nil, fmt.Errorf("Databricks host or profile is required when using Databricks MLflow. Set DATABRICKS_HOST environment variable, use a full Databricks URL as tracking URI, or specify a profile with databricks://{profile}")
	}
	return databricksConfig, nil
}
