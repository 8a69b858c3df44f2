package tags

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"patchcenter/clients"
)

// TagsHTTPClient implements the clients.TagsClient interface against the tag
// collaborator's HTTP API.
type TagsHTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewTagsHTTPClient creates a new tags API client
func NewTagsHTTPClient(baseURL string) clients.TagsClient {
	return &TagsHTTPClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}
}

type tagMembersResponse struct {
	AgentIDs []string `json:"agent_ids"`
}

// ExpandTagToAgentIDs reads the tag's current membership.
func (c *TagsHTTPClient) ExpandTagToAgentIDs(
	ctx context.Context,
	organizationID, tagID string,
) ([]string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/tags/%s/agents", c.baseURL, url.PathEscape(tagID))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Organization-ID", organizationID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to expand tag: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("tag %s not found", tagID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tags collaborator returned status %d", resp.StatusCode)
	}

	var body tagMembersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return body.AgentIDs, nil
}
