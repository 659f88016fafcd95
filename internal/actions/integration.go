package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/soochol/deskflow/internal/deskflow"
)

// maxResponseBody caps how much of an integration response is kept in the
// node output.
const maxResponseBody = 64 * 1024

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// ConnectionResolver returns a tenant connection with secrets decrypted.
type ConnectionResolver interface {
	Resolve(ctx context.Context, tenantID, id string) (*deskflow.Connection, error)
}

// IntegrationExecutor calls an external HTTP endpoint. With a connection,
// the URL may be a path relative to the connection Host and requests are
// authenticated with the connection's bearer token (http) or an OAuth2
// client-credentials token (oauth2). Transient failures are retried per
// Retry.
type IntegrationExecutor struct {
	Connections ConnectionResolver
	Client      *http.Client
	Retry       deskflow.RetryPolicy
}

type integrationParams struct {
	ConnectionID string            `json:"connection_id,omitempty"`
	Method       string            `json:"method,omitempty"`
	URL          string            `json:"url,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         any               `json:"body,omitempty"`
}

func (e *IntegrationExecutor) Kind() deskflow.ActionKind { return deskflow.ActionCallIntegration }

func (e *IntegrationExecutor) Execute(ctx context.Context, req *deskflow.ActionRequest) (map[string]any, error) {
	var p integrationParams
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodPost
	}
	if !allowedMethods[method] {
		return nil, fmt.Errorf("call_integration: unsupported HTTP method %q", method)
	}

	var conn *deskflow.Connection
	if p.ConnectionID != "" {
		if e.Connections == nil {
			return nil, fmt.Errorf("call_integration: no connection resolver configured")
		}
		c, err := e.Connections.Resolve(ctx, req.TenantID, p.ConnectionID)
		if err != nil {
			return nil, fmt.Errorf("resolve connection %q: %w", p.ConnectionID, err)
		}
		if c.Type != deskflow.ConnTypeHTTP && c.Type != deskflow.ConnTypeOAuth2 {
			return nil, fmt.Errorf("call_integration: connection %q is %s, not http or oauth2", c.ID, c.Type)
		}
		conn = c
	}

	url, err := resolveURL(expand(p.URL, req), conn)
	if err != nil {
		return nil, err
	}
	var body []byte
	if method != http.MethodGet && method != http.MethodDelete {
		payload := p.Body
		if payload == nil {
			payload = defaultBody(req)
		}
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("call_integration: encode body: %w", err)
		}
	}

	client := e.client(ctx, conn)
	var out map[string]any
	err = retry(ctx, e.Retry, "call_integration", func(ctx context.Context) error {
		res, err := e.do(ctx, client, method, url, p.Headers, body, conn)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *IntegrationExecutor) do(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body []byte, conn *deskflow.Connection) (map[string]any, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, Permanent(fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if conn != nil && conn.Type == deskflow.ConnTypeHTTP && conn.Token != "" {
		req.Header.Set("Authorization", "Bearer "+conn.Token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		err := fmt.Errorf("integration returned %d", resp.StatusCode)
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return nil, Permanent(err)
		}
		return nil, err
	}

	out := map[string]any{"status_code": resp.StatusCode}
	var decoded any
	if len(raw) > 0 && json.Unmarshal(raw, &decoded) == nil {
		out["body"] = decoded
	} else {
		out["body"] = string(raw)
	}
	return out, nil
}

// client returns the HTTP client for conn. OAuth2 connections get a client
// that fetches and refreshes client-credentials tokens transparently.
func (e *IntegrationExecutor) client(ctx context.Context, conn *deskflow.Connection) *http.Client {
	base := e.Client
	if base == nil {
		base = http.DefaultClient
	}
	if conn == nil || conn.Type != deskflow.ConnTypeOAuth2 {
		return base
	}
	cfg := clientcredentials.Config{
		ClientID:     conn.Login,
		ClientSecret: conn.Password,
		TokenURL:     conn.ExtraString("token_url"),
		Scopes:       scopes(conn.Extras["scopes"]),
	}
	return cfg.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
}

func resolveURL(raw string, conn *deskflow.Connection) (string, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw, nil
	}
	if conn == nil || conn.Host == "" {
		if raw == "" {
			return "", fmt.Errorf("call_integration: url is required")
		}
		return "", fmt.Errorf("call_integration: relative url %q needs a connection with a host", raw)
	}
	if raw == "" {
		return conn.Host, nil
	}
	return strings.TrimRight(conn.Host, "/") + "/" + strings.TrimLeft(raw, "/"), nil
}

func defaultBody(req *deskflow.ActionRequest) map[string]any {
	body := map[string]any{
		"tenant_id":       req.TenantID,
		"workflow_id":     req.WorkflowID,
		"execution_id":    req.ExecutionID,
		"event":           string(req.Trigger.Kind),
		"conversation_id": req.Trigger.ConversationID,
		"message_id":      req.Trigger.MessageID,
		"content":         req.Trigger.Content,
	}
	if req.Trigger.SentimentScore != nil {
		body["sentiment_score"] = *req.Trigger.SentimentScore
	}
	return body
}

func scopes(v any) []string {
	switch s := v.(type) {
	case string:
		return strings.Fields(s)
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
