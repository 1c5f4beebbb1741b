package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/soochol/graphrun/internal/graphrun"
)

// maxResponseBody caps how much of an HTTP response body an agent returns.
const maxResponseBody = 1 << 20 // 1 MB

// HTTPAgent posts a node's resolved inputs as JSON to a configured endpoint
// and returns the decoded JSON response as the node's outputs. 5xx and 429
// responses are classified transient so the gateway retries them.
//
// Config:
//   - url: endpoint (required)
//   - method: GET, POST, or PUT (default POST)
//   - headers: optional string key-value pairs
type HTTPAgent struct {
	Client *http.Client
}

func (a *HTTPAgent) Invoke(ctx context.Context, spec graphrun.InvocationSpec) (map[string]any, error) {
	url, _ := spec.Config["url"].(string)
	if url == "" {
		return nil, graphrun.NewAgentError(graphrun.FailurePermanent,
			fmt.Errorf("http node %q: url is required", spec.NodeID))
	}
	method, _ := spec.Config["method"].(string)
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodPost
	}

	var bodyReader io.Reader
	if method != http.MethodGet {
		payload, err := json.Marshal(stripMissing(spec.Inputs))
		if err != nil {
			return nil, graphrun.NewAgentError(graphrun.FailurePermanent,
				fmt.Errorf("encode inputs: %w", err))
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, graphrun.NewAgentError(graphrun.FailurePermanent,
			fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if hdrs, ok := spec.Config["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		// Transport errors (refused, reset, DNS) are worth retrying.
		return nil, graphrun.NewAgentError(graphrun.FailureTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, graphrun.NewAgentError(graphrun.FailureTransient,
			fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, graphrun.NewAgentError(graphrun.FailureTransient,
			fmt.Errorf("endpoint returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, graphrun.NewAgentError(graphrun.FailurePermanent,
			fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 256)))
	}

	var output map[string]any
	if err := json.Unmarshal(body, &output); err != nil {
		// Non-JSON replies are surfaced on a single port.
		return map[string]any{"body": string(body)}, nil
	}
	return output, nil
}

func stripMissing(inputs map[string]any) map[string]any {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		if graphrun.IsMissing(v) {
			continue
		}
		out[k] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
