package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackingURIKinds(t *testing.T) {
	tests := []struct {
		uri        string
		databricks bool
		local      bool
		profile    string
	}{
		{uri: "http://localhost:5000"},
		{uri: "databricks", databricks: true},
		{uri: "databricks://dev", databricks: true, profile: "dev"},
		{uri: "https://adb-123.azuredatabricks.net/", databricks: true},
		{uri: "https://mlflow.example.com"},
		{uri: "file:///tmp/mlruns", local: true},
		{uri: "./mlruns", local: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			c := &Config{TrackingURI: tt.uri}
			assert.Equal(t, tt.databricks, c.IsDatabricks())
			assert.Equal(t, tt.local, c.IsLocal())
			assert.Equal(t, tt.profile, c.GetDatabricksProfile())
		})
	}
}

func TestValidate(t *testing.T) {
	c := &Config{}
	assert.False(t, c.Enabled())
	assert.Error(t, c.Validate())

	c.TrackingURI = "file:///tmp/mlruns"
	assert.True(t, c.Enabled())
	assert.Error(t, c.Validate(), "experiment ID is required")
	assert.Equal(t, "/tmp/mlruns", c.LocalPath())

	c.ExperimentID = "0"
	assert.NoError(t, c.Validate())
}
