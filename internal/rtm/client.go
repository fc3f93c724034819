// Package rtm is a small client for the Remember The Milk REST API: request
// signing, rate limiting and the few methods the dashboard needs.
package rtm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	appLog "today/internal/log"
	"today/internal/refresh"
)

const (
	DefaultEndpoint = "https://api.rememberthemilk.com/services/rest/"
	AuthEndpoint    = "https://www.rememberthemilk.com/services/auth/"
)

// ErrAPI is wrapped by every APIError.
var ErrAPI = errors.New("rtm api error")

// APIError is a response with stat="fail".
type APIError struct {
	Method  string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (code %s)", e.Method, e.Message, e.Code)
}

func (e *APIError) Unwrap() error { return ErrAPI }

// SignatureInput concatenates secret and every key+value pair in
// lexicographic key order.
func SignatureInput(secret string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(secret)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	return b.String()
}

// Sign returns the api_sig for params: the hex MD5 of SignatureInput.
func Sign(secret string, params map[string]string) string {
	sum := md5.Sum([]byte(SignatureInput(secret, params)))
	return hex.EncodeToString(sum[:])
}

// signedQuery encodes params sorted by key with api_sig appended last.
func signedQuery(secret string, params map[string]string) string {
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v)
	}
	return values.Encode() + "&api_sig=" + Sign(secret, params)
}

type ClientConfig struct {
	Endpoint     string
	APIKey       string
	SharedSecret string
	// Token may be empty for the auth methods.
	Token string
	// MinSpacing is the minimum time between two requests.
	MinSpacing time.Duration
	HTTPClient *http.Client
}

// Client issues signed requests. Calls are serialized by the limiter.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *refresh.Limiter
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: refresh.NewLimiter(cfg.MinSpacing),
	}
}

type envelope struct {
	Rsp json.RawMessage `json:"rsp"`
}

type status struct {
	Stat string `json:"stat"`
	Err  *struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	} `json:"err"`
}

// Call invokes method with params and decodes the "rsp" object into out
// (which may be nil).
func (c *Client) Call(ctx context.Context, method string, params map[string]string, out any) error {
	p := make(map[string]string, len(params)+4)
	for k, v := range params {
		p[k] = v
	}
	p["method"] = method
	p["api_key"] = c.cfg.APIKey
	if c.cfg.Token != "" {
		p["auth_token"] = c.cfg.Token
	}
	p["format"] = "json"

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.cfg.Endpoint + "?" + signedQuery(c.cfg.SharedSecret, p)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	appLog.Debug("rtm request", "method", method)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", method, resp.Status)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if len(env.Rsp) == 0 {
		return fmt.Errorf("%s: response has no rsp", method)
	}

	var st status
	if err := json.Unmarshal(env.Rsp, &st); err != nil {
		return fmt.Errorf("%s: decode status: %w", method, err)
	}
	if st.Stat != "ok" {
		apiErr := &APIError{Method: method, Message: "stat=" + st.Stat}
		if st.Err != nil {
			apiErr.Code = st.Err.Code
			apiErr.Message = st.Err.Msg
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Rsp, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}
