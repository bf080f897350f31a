package tuya

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Client talks to the Tuya OpenAPI. Requests are signed with
// HMAC-SHA256 over the canonical string the API defines; the access token
// is acquired lazily and refreshed before expiry.
type Client struct {
	baseURL      string
	accessID     string
	accessSecret string
	httpClient   *http.Client
	logger       *logrus.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// apiResponse is the envelope every OpenAPI endpoint returns
type apiResponse struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
	T       int64           `json:"t"`
}

type tokenResult struct {
	AccessToken string `json:"access_token"`
	ExpireTime  int64  `json:"expire_time"`
}

// Device is a device row from the OpenAPI device list
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Product  string `json:"product_name"`
	IP       string `json:"ip"`
	Online   bool   `json:"online"`
}

// StatusPoint is one datapoint in a device status report
type StatusPoint struct {
	Code  string      `json:"code"`
	Value interface{} `json:"value"`
}

// Command is one datapoint write
type Command struct {
	Code  string      `json:"code"`
	Value interface{} `json:"value"`
}

// NewClient creates a Tuya OpenAPI client
func NewClient(baseURL, accessID, accessSecret string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		accessID:     accessID,
		accessSecret: accessSecret,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// sign computes the HMAC-SHA256 request signature
func (c *Client) sign(token string, timestamp string, method, path string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	stringToSign := method + "\n" + hex.EncodeToString(bodyHash[:]) + "\n\n" + path

	mac := hmac.New(sha256.New, []byte(c.accessSecret))
	mac.Write([]byte(c.accessID + token + timestamp + stringToSign))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// ensureToken returns a valid access token, refreshing when within a
// minute of expiry.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Add(time.Minute).Before(c.tokenExpiry) {
		return c.token, nil
	}

	var result tokenResult
	if err := c.do(ctx, http.MethodGet, "/v1.0/token?grant_type=1", nil, "", &result); err != nil {
		return "", fmt.Errorf("failed to acquire token: %w", err)
	}

	c.token = result.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(result.ExpireTime) * time.Second)
	c.logger.WithField("expires_in", result.ExpireTime).Debug("Tuya access token refreshed")

	return c.token, nil
}

// do executes one signed request and decodes the envelope result
func (c *Client) do(ctx context.Context, method, path string, body []byte, token string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("client_id", c.accessID)
	req.Header.Set("t", timestamp)
	req.Header.Set("sign_method", "HMAC-SHA256")
	req.Header.Set("sign", c.sign(token, timestamp, method, path, body))
	if token != "" {
		req.Header.Set("access_token", token)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var envelope apiResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !envelope.Success {
		return fmt.Errorf("api error %d: %s", envelope.Code, envelope.Msg)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

// call wraps do with token acquisition
func (c *Client) call(ctx context.Context, method, path string, body []byte, out interface{}) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, body, token, out)
}

// ListDevices returns the devices linked to the account
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var result struct {
		List []Device `json:"list"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1.0/iot-01/associated-users/devices", nil, &result); err != nil {
		return nil, err
	}
	return result.List, nil
}

// GetDeviceStatus returns the current datapoints of one device
func (c *Client) GetDeviceStatus(ctx context.Context, deviceID string) ([]StatusPoint, error) {
	var result []StatusPoint
	path := fmt.Sprintf("/v1.0/devices/%s/status", deviceID)
	if err := c.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SendCommands writes datapoints to one device
func (c *Client) SendCommands(ctx context.Context, deviceID string, commands []Command) error {
	body, err := json.Marshal(map[string]interface{}{"commands": commands})
	if err != nil {
		return fmt.Errorf("failed to encode commands: %w", err)
	}
	path := fmt.Sprintf("/v1.0/devices/%s/commands", deviceID)
	return c.call(ctx, http.MethodPost, path, body, nil)
}

// GetDevice returns one device's detail row
func (c *Client) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var result Device
	path := fmt.Sprintf("/v1.0/devices/%s", deviceID)
	if err := c.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
