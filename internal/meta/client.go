package meta

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

	"audience-sync/internal/metrics"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v19.0"
	formContentType   = "application/x-www-form-urlencoded"
	jsonContentType   = "application/json"
	listPageLimit     = "500"
)

// Client provides typed access to the Meta Marketing API.
type Client struct {
	logger    *slog.Logger
	baseURL   string
	baseHost  string
	version   string
	token     string
	accountID string
	http      *http.Client
	metrics   *metrics.Metrics
}

// Config holds Meta client configuration.
type Config struct {
	BaseURL     string
	APIVersion  string
	AccessToken string
	AdAccountID string
	Timeout     time.Duration
}

// Paging is the cursor block attached to Graph API listings.
type Paging struct {
	Cursors struct {
		Before string `json:"before"`
		After  string `json:"after"`
	} `json:"cursors"`
	Next     string `json:"next"`
	Previous string `json:"previous"`
}

// New creates a new Meta client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	version := strings.Trim(cfg.APIVersion, "/")
	if version == "" {
		version = defaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	host := ""
	if u, err := url.Parse(base); err == nil {
		host = u.Host
	}
	return &Client{
		logger:    logger.With("component", "meta"),
		baseURL:   base,
		baseHost:  host,
		version:   version,
		token:     cfg.AccessToken,
		accountID: strings.TrimPrefix(strings.TrimSpace(cfg.AdAccountID), "act_"),
		http:      &http.Client{Timeout: timeout},
		metrics:   metrics,
	}
}

// Account returns the account reference in act_<id> form.
func (c *Client) Account() string {
	return "act_" + c.accountID
}

// CustomAudience is one entry of the customaudiences listing.
type CustomAudience struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Subtype     string `json:"subtype"`
	Description string `json:"description,omitempty"`
}

type customAudiencePage struct {
	Data   []CustomAudience `json:"data"`
	Paging *Paging          `json:"paging"`
}

// ListCustomAudiences returns every custom audience in the account, following paging to the end.
func (c *Client) ListCustomAudiences(ctx context.Context) ([]CustomAudience, error) {
	query := url.Values{}
	query.Set("fields", "id,name,subtype,description")
	query.Set("limit", listPageLimit)

	var page customAudiencePage
	if err := c.get(ctx, "customaudiences.list", c.accountPath("customaudiences"), query, &page); err != nil {
		return nil, err
	}
	out := page.Data
	for page.Paging != nil && page.Paging.Next != "" {
		next := page.Paging.Next
		page = customAudiencePage{}
		if err := c.getURL(ctx, "customaudiences.list", next, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
	}
	return out, nil
}

// CreateAudienceRequest holds parameters for a new customer-file custom audience.
type CreateAudienceRequest struct {
	Name        string
	Description string
}

type idResponse struct {
	ID string `json:"id"`
}

// CreateCustomAudience creates a CUSTOM audience sourced from user-provided data and returns its ID.
func (c *Client) CreateCustomAudience(ctx context.Context, req CreateAudienceRequest) (string, error) {
	form := url.Values{}
	form.Set("name", req.Name)
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	form.Set("subtype", "CUSTOM")
	form.Set("customer_file_source", "USER_PROVIDED_ONLY")

	var resp idResponse
	if err := c.postForm(ctx, "customaudiences.create", c.accountPath("customaudiences"), form, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create custom audience: empty id in response")
	}
	return resp.ID, nil
}

// SchemaPhoneSHA256 tags uploads of hashed phone numbers.
const SchemaPhoneSHA256 = "PHONE_SHA256"

// UsersPayload is the body of an audience users upload.
type UsersPayload struct {
	Schema []string   `json:"schema"`
	Data   [][]string `json:"data"`
}

// UsersResponse reports how many identifiers the remote side accepted.
type UsersResponse struct {
	AudienceID        string `json:"audience_id"`
	SessionID         string `json:"session_id"`
	NumReceived       int    `json:"num_received"`
	NumInvalidEntries int    `json:"num_invalid_entries"`
}

// AddUsers uploads one batch of hashed phone numbers to the audience.
func (c *Client) AddUsers(ctx context.Context, audienceID string, hashes []string) (*UsersResponse, error) {
	data := make([][]string, len(hashes))
	for i, h := range hashes {
		data[i] = []string{h}
	}
	body, err := json.Marshal(map[string]any{
		"payload": UsersPayload{Schema: []string{SchemaPhoneSHA256}, Data: data},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal users payload: %w", err)
	}

	var resp UsersResponse
	if err := c.do(ctx, "customaudiences.users", http.MethodPost, c.versioned(audienceID+"/users"), strings.NewReader(string(body)), jsonContentType, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LookalikeSpec describes the size and geography of a derived audience.
type LookalikeSpec struct {
	Country string  `json:"country"`
	Ratio   float64 `json:"ratio"`
	Type    string  `json:"type,omitempty"`
}

// CreateLookalike creates a LOOKALIKE audience seeded from originID and returns its ID.
func (c *Client) CreateLookalike(ctx context.Context, name, originID string, spec LookalikeSpec) (string, error) {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshal lookalike spec: %w", err)
	}
	form := url.Values{}
	form.Set("name", name)
	form.Set("subtype", "LOOKALIKE")
	form.Set("origin_audience_id", originID)
	form.Set("lookalike_spec", string(specJSON))

	var resp idResponse
	if err := c.postForm(ctx, "customaudiences.lookalike", c.accountPath("customaudiences"), form, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create lookalike audience: empty id in response")
	}
	return resp.ID, nil
}

// Campaign is one entry of the campaigns listing.
type Campaign struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	EffectiveStatus string `json:"effective_status"`
	Objective       string `json:"objective,omitempty"`
}

// Active reports whether the campaign is currently delivering.
func (c Campaign) Active() bool {
	return strings.EqualFold(c.EffectiveStatus, "ACTIVE")
}

type campaignPage struct {
	Data   []Campaign `json:"data"`
	Paging *Paging    `json:"paging"`
}

// ListCampaigns returns every campaign in the account, following paging to the end.
func (c *Client) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	query := url.Values{}
	query.Set("fields", "id,name,status,effective_status,objective")
	query.Set("limit", listPageLimit)

	var page campaignPage
	if err := c.get(ctx, "campaigns.list", c.accountPath("campaigns"), query, &page); err != nil {
		return nil, err
	}
	out := page.Data
	for page.Paging != nil && page.Paging.Next != "" {
		next := page.Paging.Next
		page = campaignPage{}
		if err := c.getURL(ctx, "campaigns.list", next, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
	}
	return out, nil
}

// InsightsPage is one page of the insights edge. Rows stay raw so callers can flatten them.
type InsightsPage struct {
	Data   []json.RawMessage `json:"data"`
	Paging *Paging           `json:"paging"`
}

// NextURL returns the next page reference or "".
func (p *InsightsPage) NextURL() string {
	if p == nil || p.Paging == nil {
		return ""
	}
	return p.Paging.Next
}

// Insights fetches the first page of the account insights edge for the given query.
func (c *Client) Insights(ctx context.Context, query url.Values) (*InsightsPage, error) {
	var page InsightsPage
	if err := c.get(ctx, "insights", c.accountPath("insights"), query, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// InsightsNext fetches the page behind a paging.next reference.
func (c *Client) InsightsNext(ctx context.Context, next string) (*InsightsPage, error) {
	var page InsightsPage
	if err := c.getURL(ctx, "insights", next, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) accountPath(edge string) string {
	return c.versioned(c.Account() + "/" + edge)
}

func (c *Client) versioned(path string) string {
	return "/" + c.version + "/" + strings.TrimPrefix(path, "/")
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, dest any) error {
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.do(ctx, endpoint, http.MethodGet, target, nil, "", dest)
}

// getURL follows an absolute paging URL. Only URLs on the configured host are followed
// so the bearer credential never leaves it.
func (c *Client) getURL(ctx context.Context, endpoint, rawURL string, dest any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse paging url: %w", err)
	}
	if u.Host != "" && u.Host != c.baseHost {
		return fmt.Errorf("paging url host %q does not match %q", u.Host, c.baseHost)
	}
	target := u.EscapedPath()
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return c.do(ctx, endpoint, http.MethodGet, target, nil, "", dest)
}

func (c *Client) postForm(ctx context.Context, endpoint, path string, values url.Values, dest any) error {
	return c.do(ctx, endpoint, http.MethodPost, path, strings.NewReader(values.Encode()), formContentType, dest)
}

func (c *Client) do(ctx context.Context, endpoint, method, target string, body io.Reader, contentType string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+target, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	if body != nil {
		if contentType == "" {
			contentType = jsonContentType
		}
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", jsonContentType)
	req.Header.Set("User-Agent", "audience-sync/meta-client")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.MetaRequests.WithLabelValues(endpoint, "error").Inc()
		}
		return fmt.Errorf("meta request %s: %w", endpoint, err)
	}
	defer res.Body.Close()

	duration := time.Since(start)
	statusLabel := strconv.Itoa(res.StatusCode)
	if c.metrics != nil {
		c.metrics.MetaRequests.WithLabelValues(endpoint, statusLabel).Inc()
		c.metrics.MetaLatency.WithLabelValues(endpoint, statusLabel).Observe(duration.Seconds())
	}
	c.logger.Debug("meta http response", "endpoint", endpoint, "method", method, "status", res.StatusCode, "latency", duration)

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return newAPIError(endpoint, res.StatusCode, bodyBytes)
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}
