package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"patchcenter/clients"
	"patchcenter/models"
)

// CatalogHTTPClient implements the clients.CatalogClient interface against
// the package catalog collaborator's HTTP API.
type CatalogHTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewCatalogHTTPClient creates a new catalog API client
func NewCatalogHTTPClient(baseURL string) clients.CatalogClient {
	return &CatalogHTTPClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}
}

type resolveAppsRequest struct {
	AppIDs []string `json:"app_ids"`
}

type resolveAppsResponse struct {
	AppIDs []string `json:"app_ids"`
}

// ResolveValidAppIDsForAgent returns the subset of appIDs applicable to the
// agent according to the catalog.
func (c *CatalogHTTPClient) ResolveValidAppIDsForAgent(
	ctx context.Context,
	appIDs []string,
	agentID string,
) ([]string, error) {
	reqBody, err := json.Marshal(resolveAppsRequest{AppIDs: appIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/agents/%s/apps/resolve", c.baseURL, url.PathEscape(agentID))
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve apps for agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d resolving apps", resp.StatusCode)
	}

	var body resolveAppsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return body.AppIDs, nil
}

// GetDownloadDescriptor resolves the agent-specific download payload for one
// app.
func (c *CatalogHTTPClient) GetDownloadDescriptor(
	ctx context.Context,
	appID, agentID string,
) (*models.AppFileData, error) {
	endpoint := fmt.Sprintf("%s/api/v1/agents/%s/apps/%s/download",
		c.baseURL, url.PathEscape(agentID), url.PathEscape(appID))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get download descriptor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d for download descriptor", resp.StatusCode)
	}

	var descriptor models.AppFileData
	if err := json.NewDecoder(resp.Body).Decode(&descriptor); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &descriptor, nil
}

type appStatusRequest struct {
	Status string `json:"status"`
}

// SetPerAgentAppStatus pushes the app's per-agent status to the catalog.
func (c *CatalogHTTPClient) SetPerAgentAppStatus(ctx context.Context, agentID, appID, status string) error {
	reqBody, err := json.Marshal(appStatusRequest{Status: status})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/agents/%s/apps/%s/status",
		c.baseURL, url.PathEscape(agentID), url.PathEscape(appID))
	req, err := http.NewRequestWithContext(ctx, "PUT", endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to set app status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("catalog returned status %d setting app status", resp.StatusCode)
	}
	return nil
}
