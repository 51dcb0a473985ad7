// Package kaltura is the transport adapter for the Kaltura API: admin
// sessions, upload tokens, chunk appends, entry creation and direct-serve
// URLs. It implements upload.Transport.
package kaltura

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultServiceURL is the SaaS endpoint.
	DefaultServiceURL = "https://www.kaltura.com"

	apiPath               = "/api_v3/"
	uploadTokenUploadPath = "/api_v3/service/uploadtoken/action/upload"
	cdnURLTemplate        = "https://cdnapi-ev.kaltura.com/p/%d/raw/entry_id/%s/direct_serve/1/forceproxy/true/%s%s"

	clientTag = "kaltura-go-uploader/1.0"

	// adminSessionType is KalturaSessionType.ADMIN.
	adminSessionType = 2
	sessionExpiry    = 86400

	maxErrorBody = 1024
)

// Options tunes a Client. Zero values fall back to defaults.
type Options struct {
	// ServiceURL overrides DefaultServiceURL, e.g. for a self-hosted CE.
	ServiceURL string
	// ChunkTimeout bounds each chunk append attempt. Default: 30s.
	ChunkTimeout time.Duration
	// FinalizePollInterval is the wait between upload-token status polls.
	// Default: 2s.
	FinalizePollInterval time.Duration
	// FinalizeAttempts is the total number of status polls before giving
	// up. Default: 5.
	FinalizeAttempts uint
	// HTTPClient overrides the client used for chunk payloads. Control-plane
	// calls always ride a retrying client of their own.
	HTTPClient *http.Client
}

// Client is an authenticated Kaltura API client scoped to one partner.
//
// Control-plane calls (session, tokens, entries) go through a retrying HTTP
// client; chunk payloads use a plain client because chunk retries belong to
// the upload engine's own policy.
type Client struct {
	serviceURL  string
	partnerID   int
	adminSecret string
	ks          string

	api           *retryablehttp.Client
	chunkClient   *http.Client
	chunkTimeout  time.Duration
	finalizeWait  time.Duration
	finalizeTries uint

	logger log.Logger
}

// NewClient creates a client for the given partner. Call StartSession before
// any other operation.
func NewClient(partnerID int, adminSecret string, logger log.Logger, opts Options) *Client {
	serviceURL := opts.ServiceURL
	if serviceURL == "" {
		serviceURL = DefaultServiceURL
	}
	chunkTimeout := opts.ChunkTimeout
	if chunkTimeout == 0 {
		chunkTimeout = 30 * time.Second
	}
	finalizeWait := opts.FinalizePollInterval
	if finalizeWait == 0 {
		finalizeWait = 2 * time.Second
	}
	finalizeTries := opts.FinalizeAttempts
	if finalizeTries == 0 {
		finalizeTries = 5
	}
	chunkClient := opts.HTTPClient
	if chunkClient == nil {
		chunkClient = defaultChunkClient()
	}
	if logger == nil {
		logger = log.NewLogger()
	}

	return &Client{
		serviceURL:    strings.TrimRight(serviceURL, "/"),
		partnerID:     partnerID,
		adminSecret:   adminSecret,
		api:           retryhttp.NewClient(logger),
		chunkClient:   chunkClient,
		chunkTimeout:  chunkTimeout,
		finalizeWait:  finalizeWait,
		finalizeTries: finalizeTries,
		logger:        logger,
	}
}

// defaultChunkClient is tuned for large sequential uploads. Attempt
// deadlines come from per-request contexts, not a client-wide timeout.
func defaultChunkClient() *http.Client {
	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

// StartSession opens an admin session (KS) used by all subsequent calls.
func (c *Client) StartSession(ctx context.Context) error {
	params := url.Values{}
	params.Set("secret", c.adminSecret)
	params.Set("userId", clientTag)
	params.Set("type", strconv.Itoa(adminSessionType))
	params.Set("partnerId", strconv.Itoa(c.partnerID))
	params.Set("expiry", strconv.Itoa(sessionExpiry))

	var ks string
	if err := c.call(ctx, "session", "start", params, &ks); err != nil {
		return fmt.Errorf("start session for partner %d: %w", c.partnerID, err)
	}
	if ks == "" {
		return fmt.Errorf("start session for partner %d: empty session token in response", c.partnerID)
	}

	c.ks = ks
	c.logger.Debugf("Started admin session for partner %d", c.partnerID)
	return nil
}

// call posts one api_v3 request and decodes the JSON response into out.
// Service-side failures come back as HTTP 200 with an exception body, so the
// body is probed for one before decoding.
func (c *Client) call(ctx context.Context, service, action string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("service", service)
	params.Set("action", action)
	params.Set("format", "1")
	if c.ks != "" && params.Get("ks") == "" {
		params.Set("ks", c.ks)
	}
	params.Set("clientTag", clientTag)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+apiPath, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("create %s.%s request: %w", service, action, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.api.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warnf("close response body: %s", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: fmt.Errorf("read %s.%s response: %w", service, action, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode, body: truncate(body)}
	}
	if apiErr := parseAPIError(body); apiErr != nil {
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s.%s response: %w", service, action, err)
		}
	}
	return nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}

var ksPattern = regexp.MustCompile(`(ks=)[^&\s]+`)

// scrubKS removes session tokens from strings destined for logs.
func scrubKS(s string) string {
	return ksPattern.ReplaceAllString(s, "${1}[REDACTED]")
}
