// Command test_integration drives a running server through one
// ingest/decide/merge cycle and exits non-zero on the first failed step.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type smoke struct {
	baseURL string
	client  *http.Client

	topic    string
	docID    string
	decision map[string]any
}

const followUp = "## Results\nWith Redis in front of the catalog API, p95 latency fell to 40 ms."

func main() {
	s := &smoke{
		baseURL: "http://localhost:8080",
		client:  &http.Client{Timeout: 30 * time.Second},
		topic:   fmt.Sprintf("smoke-%d", time.Now().Unix()),
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		s.baseURL = v
	}
	time.Sleep(2 * time.Second) // give the server time to come up

	steps := []struct {
		name string
		run  func() error
	}{
		{"health", s.health},
		{"ingest first note", s.ingest},
		{"decide on follow-up", s.decide},
		{"merge follow-up", s.merge},
		{"history", s.history},
		{"snapshot", s.snapshot},
		{"communities", s.communities},
	}
	for i, step := range steps {
		fmt.Printf("%d. %s...\n", i+1, step.name)
		if err := step.run(); err != nil {
			fmt.Printf("FAILED: %s: %v\n", step.name, err)
			os.Exit(1)
		}
		fmt.Printf("PASSED: %s\n", step.name)
	}
}

func (s *smoke) health() error {
	return s.call(http.MethodGet, "/healthz", nil, nil)
}

func (s *smoke) ingest() error {
	var out struct {
		DocumentID string `json:"document_id"`
	}
	err := s.call(http.MethodPost, "/ingest", map[string]any{
		"content": "## Setup\nWe put Redis in front of the catalog API.",
		"topics":  []string{s.topic},
	}, &out)
	if err != nil {
		return err
	}
	if out.DocumentID == "" {
		return fmt.Errorf("no document id returned")
	}
	s.docID = out.DocumentID
	return nil
}

func (s *smoke) decide() error {
	return s.call(http.MethodPost, "/decide", map[string]any{
		"content": followUp,
		"topics":  []string{s.topic},
	}, &s.decision)
}

func (s *smoke) merge() error {
	if s.decision["action"] == "CREATE" {
		fmt.Println("follow-up was not matched, nothing to merge")
		return nil
	}
	return s.call(http.MethodPost, "/merge", map[string]any{"decision": s.decision, "content": followUp}, nil)
}

func (s *smoke) history() error {
	return s.call(http.MethodGet, "/documents/"+s.docID+"/history", nil, nil)
}

func (s *smoke) snapshot() error {
	return s.call(http.MethodPost, "/index/snapshot", nil, nil)
}

func (s *smoke) communities() error {
	return s.call(http.MethodGet, "/index/communities", nil, nil)
}

func (s *smoke) call(method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("  %d %s\n", resp.StatusCode, raw)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}
