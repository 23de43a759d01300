// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package builtin

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/types"
)

const (
	// DefaultHTTPTimeout bounds an http_request invocation.
	DefaultHTTPTimeout = 30 * time.Second
	// maxResponseBytes caps captured response bodies.
	maxResponseBytes = 512 * 1024
)

// HTTPRequestTool issues HTTP requests to allowlisted hosts. Patterns
// match exact hosts ("api.example.com") or subdomain wildcards
// ("*.internal").
type HTTPRequestTool struct {
	allowedHosts []string
	client       *http.Client
}

// NewHTTPRequestTool creates an http_request tool restricted to the
// given host patterns.
func NewHTTPRequestTool(allowedHosts []string) (*HTTPRequestTool, error) {
	if len(allowedHosts) == 0 {
		return nil, types.NewError(types.KindConfigurationError,
			"http_request requires at least one allowed host pattern").
			WithHint("set tools.allowed_hosts in the config")
	}
	return &HTTPRequestTool{
		allowedHosts: allowedHosts,
		client:       &http.Client{Timeout: DefaultHTTPTimeout},
	}, nil
}

func (t *HTTPRequestTool) Name() string { return "http_request" }
func (t *HTTPRequestTool) Description() string {
	return "Issue an HTTP request to an allowlisted host and return the response"
}

func (t *HTTPRequestTool) SideEffect() shuttle.SideEffect { return shuttle.SideEffectExternal }

func (t *HTTPRequestTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("http_request parameters",
		map[string]*shuttle.JSONSchema{
			"url": shuttle.NewStringSchema("Request URL, http or https"),
			"method": {
				Type:        "string",
				Description: "HTTP method",
				Enum:        []interface{}{"GET", "POST", "PUT", "DELETE", "HEAD"},
				Default:     "GET",
			},
			"body": shuttle.NewStringSchema("Request body for POST and PUT"),
			"headers": {
				Type:        "object",
				Description: "Request headers as string key-value pairs",
			},
		},
		[]string{"url"})
}

func (t *HTTPRequestTool) Resources(params map[string]interface{}) []string {
	raw, ok := params["url"].(string)
	if !ok {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return []string{raw}
	}
	return []string{u.Hostname()}
}

func (t *HTTPRequestTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	rawURL, ok := params["url"].(string)
	if !ok || rawURL == "" {
		return nil, types.NewError(types.KindBadRequest, "url parameter must be a non-empty string")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, types.NewError(types.KindBadRequest, "url %q is not a valid http(s) URL", rawURL)
	}
	if !t.hostAllowed(u.Hostname()) {
		return nil, types.NewError(types.KindPolicyDenied,
			"host %q is not on the allowlist", u.Hostname()).WithEntity("http_request")
	}

	method := "GET"
	if m, ok := params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	var body io.Reader
	if b, ok := params["body"].(string); ok && b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, types.WrapError(types.KindBadRequest, err, "failed to build request")
	}
	if headers, ok := params["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.WrapError(types.KindOf(ctx.Err()), err, "http_request aborted")
		}
		return nil, types.WrapError(types.KindTransient, err, "request to %q failed", u.Hostname())
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, types.WrapError(types.KindTransient, err, "failed to read response body")
	}

	return &shuttle.Result{
		Data: map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(payload),
		},
		Metadata: map[string]interface{}{
			"url":          rawURL,
			"method":       method,
			"content_type": resp.Header.Get("Content-Type"),
		},
	}, nil
}

func (t *HTTPRequestTool) hostAllowed(host string) bool {
	for _, pattern := range t.allowedHosts {
		if pattern == host {
			return true
		}
		if strings.HasPrefix(pattern, "*.") && strings.HasSuffix(host, pattern[1:]) {
			return true
		}
	}
	return false
}
