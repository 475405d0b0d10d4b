package mlflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/databricks/databricks-sdk-go/httpclient"
)

// artifactStore is where a run's artifacts live, selected by the scheme of the run's artifact URI.
type artifactStore interface {
	put(ctx context.Context, a *artifact) error
}

// artifact is a local file on its way to artifactPath ("/"-separated) in a run's artifacts.
type artifact struct {
	file         *os.File
	size         int64
	artifactPath string
}

func openArtifact(filePath, artifactPath string) (*artifact, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	if artifactPath == "" {
		artifactPath = filepath.Base(filePath)
	}
	return &artifact{file: file, size: info.Size(), artifactPath: path.Clean(artifactPath)}, nil
}

// UploadArtifact uploads a file as an artifact of the given run. An empty artifactPath keeps
// the file's base name.
func (c *Client) UploadArtifact(ctx context.Context, runID, filePath, artifactPath string) error {
	info, err := c.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	artifactURI := info.ArtifactURI
	if artifactURI == "" {
		return fmt.Errorf("artifact URI not found for run %s", runID)
	}

	store, err := c.storeFor(artifactURI)
	if err != nil {
		return err
	}
	a, err := openArtifact(filePath, artifactPath)
	if err != nil {
		return err
	}
	defer a.file.Close()
	return store.put(ctx, a)
}

func (c *Client) storeFor(artifactURI string) (artifactStore, error) {
	switch {
	case strings.HasPrefix(artifactURI, "mlflow-artifacts:"):
		experimentID, runID, err := extractIDsFromArtifactURI(artifactURI)
		if err != nil {
			return nil, err
		}
		return &proxiedStore{c: c, experimentID: experimentID, runID: runID}, nil
	case strings.HasPrefix(artifactURI, "dbfs:/"):
		runID, err := extractRunIDFromDBFSURI(artifactURI)
		if err != nil {
			return nil, err
		}
		return &signedURIStore{c: c, runID: runID}, nil
	case strings.HasPrefix(artifactURI, "file://"), strings.HasPrefix(artifactURI, "/"):
		return localStore(strings.TrimPrefix(artifactURI, "file://")), nil
	default:
		return nil, fmt.Errorf("unsupported artifact URI scheme: %s", artifactURI)
	}
}

// proxiedStore uploads through the MLflow Artifacts Service of the tracking server.
type proxiedStore struct {
	c            *Client
	experimentID string
	runID        string
}

func (s *proxiedStore) url(artifactPath string) string {
	segments := strings.Split(artifactPath, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return fmt.Sprintf("%s/api/2.0/mlflow-artifacts/artifacts/%s/%s/artifacts/%s",
		strings.TrimSuffix(s.c.config.TrackingURI, "/"), s.experimentID, s.runID, strings.Join(segments, "/"))
}

func (s *proxiedStore) put(ctx context.Context, a *artifact) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.url(a.artifactPath), a.file)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = a.size
	req.Header.Set("Content-Type", "application/octet-stream")
	s.c.addAuthHeaders(req)

	if err := s.c.sendPut(req); err != nil {
		return fmt.Errorf("MLflow Artifacts Service upload failed: %w", err)
	}
	return nil
}

// signedURIStore uploads to the cloud storage behind a Databricks workspace, through the
// short-lived signed URIs handed out by the credentials-for-write endpoint.
type signedURIStore struct {
	c     *Client
	runID string
}

type credentialsForWriteRequest struct {
	RunID string   `json:"run_id"`
	Path  []string `json:"path"`
}

type credentialsForWriteResponse struct {
	CredentialInfos []ArtifactCredentialInfo `json:"credential_infos"`
}

// ArtifactCredentialInfo is a signed URI to write one artifact.
type ArtifactCredentialInfo struct {
	RunID     string       `json:"run_id"`
	Path      string       `json:"path"`
	SignedURI string       `json:"signed_uri"`
	Headers   []HTTPHeader `json:"headers"`
	Type      string       `json:"type"`
}

type HTTPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (s *signedURIStore) put(ctx context.Context, a *artifact) error {
	if s.c.apiClient == nil {
		return fmt.Errorf("DBFS artifacts require a Databricks workspace")
	}
	var response credentialsForWriteResponse
	err := s.c.apiClient.Do(ctx, http.MethodPost, "/api/2.0/mlflow/artifacts/credentials-for-write",
		httpclient.WithRequestData(credentialsForWriteRequest{RunID: s.runID, Path: []string{a.artifactPath}}),
		httpclient.WithResponseUnmarshal(&response),
	)
	if err != nil {
		return fmt.Errorf("failed to get write credentials: %w", err)
	}
	if len(response.CredentialInfos) == 0 {
		return fmt.Errorf("no credentials returned for path: %s", a.artifactPath)
	}

	credential := response.CredentialInfos[0]
	req, err := newSignedURIRequest(ctx, credential, a.file, a.size)
	if err != nil {
		return err
	}
	if err := s.c.sendPut(req); err != nil {
		return fmt.Errorf("failed to upload to %s signed URI: %w", credential.Type, err)
	}
	return nil
}

// localStore is an artifact directory on a local or mounted file system.
type localStore string

func (s localStore) put(_ context.Context, a *artifact) error {
	dst, err := safeJoin(string(s), a.artifactPath)
	if err != nil {
		return err
	}
	return copyFile(a.file.Name(), dst)
}

// copyFile copies src to dst, creating dst's directory.
func copyFile(src, dst string) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	sourceFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	if _, err := destFile.ReadFrom(sourceFile); err != nil {
		destFile.Close()
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	return destFile.Close()
}

// extractIDsFromArtifactURI extracts experiment ID and run ID from a mlflow-artifacts URI,
// e.g. mlflow-artifacts:/0/47485d6a0b734e37aaddc60be04b7371/artifacts
func extractIDsFromArtifactURI(artifactURI string) (string, string, error) {
	parts := strings.Split(strings.TrimLeft(strings.TrimPrefix(artifactURI, "mlflow-artifacts:"), "/"), "/")
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid mlflow-artifacts URI format: %s", artifactURI)
	}
	return parts[0], parts[1], nil
}

// extractRunIDFromDBFSURI extracts run ID from
// dbfs:/databricks/mlflow-tracking/{experiment_id}/{run_id}/artifacts
func extractRunIDFromDBFSURI(artifactURI string) (string, error) {
	const prefix = "dbfs:/databricks/mlflow-tracking/"
	if !strings.HasPrefix(artifactURI, prefix) {
		return "", fmt.Errorf("invalid DBFS artifact URI format: %s", artifactURI)
	}
	parts := strings.Split(strings.TrimPrefix(artifactURI, prefix), "/")
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("run ID not found in DBFS URI: %s", artifactURI)
	}
	return parts[1], nil
}

func (c *Client) addAuthHeaders(req *http.Request) {
	if !c.config.IsDatabricks() {
		return
	}
	if c.client != nil && c.client.Config != nil && c.client.Config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.client.Config.Token)
	} else if c.config.DatabricksToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.DatabricksToken)
	}
}

// newSignedURIRequest creates the PUT request for a cloud signed URI
func newSignedURIRequest(ctx context.Context, credential ArtifactCredentialInfo, body io.Reader, contentLength int64) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, credential.SignedURI, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// Some cloud providers require an explicit Content-Length.
	req.ContentLength = contentLength
	req.Header.Set("Content-Type", "application/octet-stream")

	switch credential.Type {
	case "AWS_PRESIGNED_URL":
		// S3 does not support Transfer-Encoding
		req.Header.Del("Transfer-Encoding")
	case "AZURE_SAS_URI":
		req.Header.Set("x-ms-blob-type", "BlockBlob")
	}
	for _, header := range credential.Headers {
		req.Header.Set(header.Name, header.Value)
	}
	return req, nil
}

func (c *Client) sendPut(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
