package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"trellis/internal/workflow/types"
)

const (
	// maxResponseSize caps how much of a callout response lands in the
	// action log.
	maxResponseSize = 50_000

	defaultCalloutTimeout = 30 * time.Second
)

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// HTTPCalloutHandler delivers an HTTP request to an external endpoint.
//
// Config format:
//
//	{"url": "https://api.example.com/hook",
//	 "method": "POST",
//	 "headers": {"X-Env": "prod"},
//	 "secret": "whsec_...",
//	 "body": {"custom": "payload"}}
//
// Without an explicit body the request carries a JSON envelope of the
// triggering context. Requests are signed with the config secret and
// authorized with a minted system token unless the config supplies its own
// Authorization header. Any 2xx response is success.
type HTTPCalloutHandler struct {
	client *http.Client
	tokens TokenSource
	logger *slog.Logger

	// Injected for tests.
	now func() time.Time
}

func NewHTTPCalloutHandler(tokens TokenSource, timeout time.Duration, logger *slog.Logger) *HTTPCalloutHandler {
	if timeout <= 0 {
		timeout = defaultCalloutTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPCalloutHandler{
		client: &http.Client{Timeout: timeout},
		tokens: tokens,
		logger: logger.With("component", "workflow.action"),
		now:    time.Now,
	}
}

func (h *HTTPCalloutHandler) Key() string {
	return types.ActionHTTPCallout
}

func (h *HTTPCalloutHandler) Execute(ctx context.Context, in *types.ActionContext) (*types.ActionResult, error) {
	config, err := parseConfig(in.Config)
	if err != nil {
		return types.Failure(err.Error()), nil
	}

	url := stringValue(config, "url")
	if url == "" {
		return types.Failure("URL is required for HTTP callout"), nil
	}

	method := strings.ToUpper(stringValue(config, "method"))
	if method == "" {
		method = http.MethodPost
	}
	if !allowedMethods[method] {
		return types.Failure("Invalid HTTP method: " + method), nil
	}

	payload, err := h.buildPayload(config, in)
	if err != nil {
		return types.Failure("Failed to build request body: " + err.Error()), nil
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return types.Failure("Failed to create request: " + err.Error()), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Trellis-Workflow/1.0")
	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	if req.Header.Get("Authorization") == "" && h.tokens != nil {
		token, err := h.tokens.GenerateSystemToken("workflow-engine")
		if err != nil {
			return types.Failure("Failed to generate system token: " + err.Error()), nil
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if secret := stringValue(config, "secret"); secret != "" {
		timestamp := h.now().Unix()
		req.Header.Set("X-Trellis-Signature", signPayload(payload, secret, timestamp))
	}

	h.logger.Info("HTTP callout", "method", method, "url", url, "rule_id", in.RuleID)

	resp, err := h.client.Do(req)
	if err != nil {
		return types.Failure("Request failed: " + err.Error()), nil
	}
	defer resp.Body.Close()

	output := map[string]any{
		"statusCode": resp.StatusCode,
		"url":        url,
		"method":     method,
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if len(body) > 0 {
		responseBody := string(body)
		if len(body) > maxResponseSize {
			responseBody = string(body[:maxResponseSize]) + "... [truncated]"
		}
		output["responseBody"] = responseBody

		// Structured access for downstream consumers when the response
		// happens to be JSON.
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			output["responseData"] = parsed
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &types.ActionResult{
			Successful:   false,
			ErrorMessage: fmt.Sprintf("HTTP callout failed with status: %d", resp.StatusCode),
			Output:       output,
		}, nil
	}

	h.logger.Info("HTTP callout completed", "url", url, "status", resp.StatusCode)
	return types.Success(output), nil
}

// buildPayload returns the explicit config body when present, otherwise a
// JSON envelope of the triggering context.
func (h *HTTPCalloutHandler) buildPayload(config map[string]any, in *types.ActionContext) ([]byte, error) {
	if body, ok := config["body"]; ok && body != nil {
		if s, ok := body.(string); ok {
			return []byte(s), nil
		}
		return json.Marshal(body)
	}

	envelope := map[string]any{
		"tenantId":       in.TenantID,
		"collectionId":   in.CollectionID,
		"collectionName": in.CollectionName,
		"recordId":       in.RecordID,
		"workflowRuleId": in.RuleID,
		"userId":         in.UserID,
		"data":           in.Data,
		"changedFields":  in.ChangedFields,
		"timestamp":      h.now().UTC().Format(time.RFC3339),
	}
	if len(in.PreviousData) > 0 {
		envelope["previousData"] = in.PreviousData
	}
	return json.Marshal(envelope)
}

// signPayload computes the webhook signature header value, formatted as
// t={ts},v1={hex(hmac-sha256(secret, "{ts}." + body))}.
func signPayload(body []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", timestamp)))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, sig)
}

func (h *HTTPCalloutHandler) Validate(config string) error {
	parsed, err := parseValidateConfig(config)
	if err != nil {
		return err
	}

	if stringValue(parsed, "url") == "" {
		return fmt.Errorf("Config must contain 'url'")
	}

	if method := strings.ToUpper(stringValue(parsed, "method")); method != "" && !allowedMethods[method] {
		return fmt.Errorf("Invalid HTTP method: %s. Allowed methods: GET, POST, PUT, PATCH, DELETE", method)
	}
	return nil
}
