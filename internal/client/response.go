package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// parseResponse decodes an OData response body. OData v2 wraps payloads in
// "d" (and lists in "d.results"); v4 puts lists under "value". Both shapes
// are unwrapped so callers see plain entities or entity lists.
func parseResponse(resp *http.Response) (interface{}, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorMessage(body, resp.Status))
	}

	if resp.StatusCode == http.StatusNoContent || len(body) == 0 {
		return nil, nil
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// v2 verbose format
	if d, ok := decoded["d"].(map[string]interface{}); ok {
		if results, ok := d["results"]; ok {
			return results, nil
		}
		return d, nil
	}
	// v4 format
	if value, ok := decoded["value"]; ok {
		return value, nil
	}
	return decoded, nil
}

// errorMessage extracts a human-readable message from an OData error body.
// Falls back to the HTTP status line when the body is not a recognizable
// error document.
func errorMessage(body []byte, status string) string {
	var doc struct {
		Error struct {
			Message json.RawMessage `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &doc); err == nil && len(doc.Error.Message) > 0 {
		// v4: message is a plain string
		var plain string
		if err := json.Unmarshal(doc.Error.Message, &plain); err == nil && plain != "" {
			return plain
		}
		// v2: message is {"lang": "...", "value": "..."}
		var nested struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(doc.Error.Message, &nested); err == nil && nested.Value != "" {
			return nested.Value
		}
	}
	if s := snippet(body); s != "" {
		return s
	}
	return status
}
