// Package catalog searches the ASF archive for Sentinel-1 scenes and keeps
// the search results as a STAC item collection, the pipeline's inventory
// file. The inventory drives both the download stage and the work-unit
// enumeration.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client handles communication with the ASF search API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new catalogue client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// SearchParams narrows a catalogue search. AOI is a WKT polygon; an empty
// field leaves the corresponding filter out.
type SearchParams struct {
	ProductType     string // GRD or SLC
	BeamMode        string
	Polarisation    []string
	Start           *time.Time
	End             *time.Time
	AOI             string
	RelativeOrbit   []int
	FlightDirection string
	GranuleList     []string
	MaxResults      int
}

func (p *SearchParams) values() url.Values {
	values := url.Values{}
	values.Set("platform", "Sentinel-1")
	values.Set("output", "geojson")

	if p.ProcessingLevelParam() != "" {
		values.Set("processingLevel", p.ProcessingLevelParam())
	}
	if p.BeamMode != "" {
		values.Set("beamMode", p.BeamMode)
	}
	for _, pol := range p.Polarisation {
		values.Add("polarization", pol)
	}
	if p.Start != nil {
		values.Set("start", p.Start.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if p.End != nil {
		values.Set("end", p.End.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if p.AOI != "" {
		values.Set("intersectsWith", p.AOI)
	}
	for _, ro := range p.RelativeOrbit {
		values.Add("relativeOrbit", strconv.Itoa(ro))
	}
	if p.FlightDirection != "" {
		values.Set("flightDirection", p.FlightDirection)
	}
	if len(p.GranuleList) > 0 {
		values.Set("granule_list", strings.Join(p.GranuleList, ","))
	}
	if p.MaxResults > 0 {
		values.Set("maxResults", strconv.Itoa(p.MaxResults))
	}
	return values
}

// ProcessingLevelParam maps the product type onto the archive's processing
// level names. GRD scenes exist in high and medium resolution variants.
func (p *SearchParams) ProcessingLevelParam() string {
	switch p.ProductType {
	case "GRD":
		return "GRD_HD,GRD_MD"
	case "SLC":
		return "SLC"
	default:
		return p.ProductType
	}
}

// Search queries the archive and returns the matching granules.
func (c *Client) Search(ctx context.Context, params SearchParams) ([]Granule, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid catalogue base URL: %w", err)
	}
	base.Path = "/services/search/param"
	base.RawQuery = params.values().Encode()
	searchURL := base.String()

	c.logger.DebugContext(ctx, "executing catalogue search",
		slog.String("url", searchURL),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "s1ard/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalogue request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.ErrorContext(ctx, "catalogue returned non-200 status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(body)),
		)
		return nil, fmt.Errorf("catalogue returned status %d: %s", resp.StatusCode, string(body))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode catalogue response: %w", err)
	}

	c.logger.DebugContext(ctx, "catalogue search completed",
		slog.Int("granule_count", len(result.Features)),
	)
	return result.Features, nil
}

// GetGranule retrieves a single granule by scene name.
func (c *Client) GetGranule(ctx context.Context, sceneName string) (*Granule, error) {
	granules, err := c.Search(ctx, SearchParams{GranuleList: []string{sceneName}})
	if err != nil {
		return nil, fmt.Errorf("failed to search for granule: %w", err)
	}
	if len(granules) == 0 {
		return nil, fmt.Errorf("granule not found: %s", sceneName)
	}
	for i := range granules {
		if granules[i].Properties.SceneName == sceneName {
			return &granules[i], nil
		}
	}
	return &granules[0], nil
}
