package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client talks to a cockpit controller mounted at BaseURL
// (e.g. http://localhost:8080/comfyui-cockpit).
type Client struct {
	baseURL   string
	token     string
	client    *http.Client
	tlsConfig *tls.Config
	logger    *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Token    string // sent as "Authorization: token <t>" and as ?token= on the socket
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

const (
	DefaultBaseURL = "http://localhost:8080/comfyui-cockpit"
	DefaultTimeout = 10 * time.Second
)

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// New creates a new cockpit API client with TLS support
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	var tlsConfig *tls.Config
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		cfg, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			tlsConfig = cfg
			transport.TLSClientConfig = cfg
		}
	}

	return &Client{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		token:     config.Token,
		tlsConfig: tlsConfig,
		logger:    config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// BaseURL returns the controller base URL without trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// TLSConfig returns the TLS settings used for HTTP so the socket can reuse them.
func (c *Client) TLSConfig() *tls.Config { return c.tlsConfig }

// IsReachable checks if the controller answers GET /process.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.GetProcess(ctx)
	if err != nil {
		c.logger.Debug("Controller unreachable", "error", err)
		return false
	}
	return true
}

// GetProcess fetches the current process status.
func (c *Client) GetProcess(ctx context.Context) (ProcessStatus, error) {
	var out ProcessStatus
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/process", nil, &out)
	return out, err
}

// ControlProcess sends a start/stop/restart request.
func (c *Client) ControlProcess(ctx context.Context, action string) (ActionResponse, error) {
	c.logger.Debug("Sending process action", "action", action)
	var out ActionResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/process", ActionRequest{Action: action}, &out); err != nil {
		return out, err
	}
	if out.Status == "error" {
		return out, &APIError{StatusCode: http.StatusOK, Message: out.Message}
	}
	return out, nil
}

// GetVersion fetches the currently installed ComfyUI version.
func (c *Client) GetVersion(ctx context.Context) (VersionInfo, error) {
	var out VersionInfo
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/version", nil, &out)
	return out, err
}

// ListVersions fetches the versions the controller can switch to.
func (c *Client) ListVersions(ctx context.Context) (VersionList, error) {
	var out VersionList
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/version?action=list", nil, &out)
	if out.AvailableVersions == nil {
		out.AvailableVersions = []string{}
	}
	return out, err
}

// SwitchVersion asks the controller to switch to version. A structured
// {"success": false} answer is returned as a result, not as an error.
func (c *Client) SwitchVersion(ctx context.Context, version string) (SwitchResult, error) {
	c.logger.Info("Switching version", "version", version)
	var out SwitchResult
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/version", SwitchRequest{Version: version}, &out)
	return out, err
}

// SocketURL returns the ws(s) URL of the status/log feed.
func (c *Client) SocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket"
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// doJSON performs a request with an optional JSON body and decodes a JSON answer into out.
func (c *Client) doJSON(ctx context.Context, method, url string, in any, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse turns a non-2xx answer into an *APIError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}
	msg := errorResp.Message
	if msg == "" {
		msg = errorResp.Error
	}
	c.logger.Error("API request failed", "error", msg, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
