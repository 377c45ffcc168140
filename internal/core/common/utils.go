package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParseJSON decodes the first JSON object found in an LLM response into T.
// Markdown fences and any prose before or after the object are ignored.
func ParseJSON[T any](response string) (T, error) {
	var result T

	start := strings.IndexByte(response, '{')
	if start == -1 {
		return result, errors.New("no JSON object found in response")
	}

	dec := json.NewDecoder(strings.NewReader(response[start:]))
	if err := dec.Decode(&result); err != nil {
		return result, fmt.Errorf("failed to unmarshal JSON: %w\nData: %s", err, truncate(response[start:], 200))
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
