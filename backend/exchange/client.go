package exchange

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"exchangesync/backend"
	"exchangesync/internal/metrics"
	"exchangesync/internal/utils"
)

const (
	// DefaultServerVersion is sent as t:RequestServerVersion
	DefaultServerVersion = "Exchange2010_SP2"

	ewsPath        = "/EWS/Exchange.asmx"
	defaultTimeout = 30 * time.Second

	// Exchange Online app-only access
	defaultTokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	defaultOAuth2Scope    = "https://outlook.office365.com/.default"
)

// clientConfig carries the resolved connection settings
type clientConfig struct {
	Endpoint           string
	ServerVersion      string
	Username           string
	Password           string
	OAuth2             *clientcredentials.Config
	InsecureSkipVerify bool
	Timeout            time.Duration
	Metrics            *metrics.Metrics
}

// client speaks SOAP to a single EWS endpoint
type client struct {
	endpoint      string
	serverVersion string
	username      string
	password      string
	useOAuth2     bool
	httpClient    *http.Client
	streamClient  *http.Client
	metrics       *metrics.Metrics
}

func newClient(cfg clientConfig) *client {
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = DefaultServerVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}

	var rt http.RoundTripper = base
	if cfg.OAuth2 != nil {
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
			Transport: base,
			Timeout:   cfg.Timeout,
		})
		rt = &oauth2.Transport{Source: cfg.OAuth2.TokenSource(tokenCtx), Base: base}
	}

	return &client{
		endpoint:      cfg.Endpoint,
		serverVersion: cfg.ServerVersion,
		username:      cfg.Username,
		password:      cfg.Password,
		useOAuth2:     cfg.OAuth2 != nil,
		httpClient:    &http.Client{Transport: rt, Timeout: cfg.Timeout},
		// streaming connections stay open for the whole subscription window
		streamClient: &http.Client{Transport: rt},
		metrics:      cfg.Metrics,
	}
}

// endpointURL builds https://<host>/EWS/Exchange.asmx unless an explicit URL is set
func endpointURL(host, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if host == "" {
		return "", fmt.Errorf("exchange host is required")
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "https://"), "/")
	return "https://" + host + ewsPath, nil
}

// call sends one operation and returns its response messages
func (c *client) call(ctx context.Context, operation string, request interface{}) ([]responseMessage, error) {
	started := time.Now()
	msgs, err := c.roundTrip(ctx, operation, request)
	c.metrics.ObserveRequest(operation, started, err)
	if err != nil {
		utils.Debugf("EWS %s failed after %s: %v", operation, time.Since(started), err)
		return nil, err
	}
	utils.Debugf("EWS %s completed in %s (%d messages)", operation, time.Since(started), len(msgs))
	return msgs, nil
}

func (c *client) roundTrip(ctx context.Context, operation string, request interface{}) ([]responseMessage, error) {
	resp, err := c.post(ctx, c.httpClient, operation, request)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var env responseEnvelope
	if err := xml.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, backend.NewBackendError(operation, resp.StatusCode, "failed to decode response").WithError(err)
	}
	return env.messages(operation, resp.StatusCode)
}

// stream opens a long-lived request; the caller owns the response body
func (c *client) stream(ctx context.Context, operation string, request interface{}) (*http.Response, error) {
	started := time.Now()
	resp, err := c.post(ctx, c.streamClient, operation, request)
	c.metrics.ObserveRequest(operation, started, err)
	return resp, err
}

func (c *client) post(ctx context.Context, hc *http.Client, operation string, request interface{}) (*http.Response, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	env := newRequestEnvelope(c.serverVersion, c.impersonatedMailbox(), request)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("Accept", "text/xml")
	if c.useOAuth2 {
		if c.username != "" {
			req.Header.Set("X-AnchorMailbox", c.username)
		}
	} else {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, backend.NewBackendError(operation, 0, "request failed").WithError(err)
	}
	if err := checkHTTPResponse(resp, operation); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func (c *client) closeIdleConnections() {
	c.httpClient.CloseIdleConnections()
	c.streamClient.CloseIdleConnections()
}

// impersonatedMailbox is set for app-only tokens, which act on behalf of a mailbox
func (c *client) impersonatedMailbox() string {
	if c.useOAuth2 {
		return c.username
	}
	return ""
}

// checkHTTPResponse checks HTTP response status and returns appropriate errors
func checkHTTPResponse(resp *http.Response, operation string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case 401, 403:
		return backend.NewBackendError(operation, resp.StatusCode, "Authentication failed. Please check your username and password").
			WithBody(string(body))
	case 404:
		return backend.NewBackendError(operation, resp.StatusCode, "EWS endpoint not found. Please check the configured host").
			WithBody(string(body))
	}

	// EWS reports SOAP faults with status 500
	var env responseEnvelope
	if xml.Unmarshal(body, &env) == nil && env.Body.Fault != nil {
		return env.Body.Fault.err(operation, resp.StatusCode).WithBody(string(body))
	}
	return backend.NewBackendError(operation, resp.StatusCode, resp.Status).WithBody(string(body))
}

func (f *soapFault) err(operation string, status int) *backend.BackendError {
	msg := f.FaultString
	if msg == "" {
		msg = f.Detail.Message
	}
	return backend.NewBackendError(operation, status, msg).WithResponseCode(f.Detail.ResponseCode)
}

func (env responseEnvelope) messages(operation string, status int) ([]responseMessage, error) {
	if env.Body.Fault != nil {
		return nil, env.Body.Fault.err(operation, status)
	}
	if env.Body.Response == nil {
		return nil, backend.NewBackendError(operation, status, "response contains no result")
	}
	msgs := env.Body.Response.ResponseMessages.Messages
	for _, m := range msgs {
		if m.ResponseClass == responseClassWarning {
			utils.Warnf("EWS %s returned warning %s: %s", operation, m.ResponseCode, m.MessageText)
		}
	}
	return msgs, nil
}

// single returns the only response message or its error
func single(operation string, msgs []responseMessage) (responseMessage, error) {
	if len(msgs) == 0 {
		return responseMessage{}, backend.NewBackendError(operation, 0, "response contains no messages")
	}
	if err := msgs[0].err(operation); err != nil {
		return responseMessage{}, err
	}
	return msgs[0], nil
}

// oauth2Config builds the client-credentials config for Exchange Online
func oauth2Config(cfg backend.OAuth2Config, secret string) *clientcredentials.Config {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf(defaultTokenURLFormat, cfg.TenantID)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{defaultOAuth2Scope}
	}
	return &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: secret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
}
