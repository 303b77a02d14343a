package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/forgecore/forge/internal/core"
)

// Fetch retrieves a URL over HTTP(S), mirroring the teacher's
// web_fetch.go shape but without its HTML-to-markdown conversion (no
// such dependency is wired in SPEC_FULL's scope for this tool).
type Fetch struct {
	Client *http.Client
}

func NewFetch() *Fetch {
	return &Fetch{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (t *Fetch) Name() string        { return "fetch" }
func (t *Fetch) Description() string { return "Fetch a URL over HTTP(S) and return its response body as text." }
func (t *Fetch) Schema() map[string]any {
	return schemaObject(map[string]any{
		"url": strProp("The URL to fetch."),
	}, "url")
}

type fetchInput struct {
	URL string `json:"url"`
}

func (t *Fetch) Operation(input json.RawMessage) core.Operation {
	var p fetchInput
	_ = json.Unmarshal(input, &p)
	return core.Operation{Kind: core.OpFetch, URL: p.URL}
}

const maxFetchBytes = 1 << 20

func (t *Fetch) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var p fetchInput
	if err := json.Unmarshal(input, &p); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch: bad url: %w", err)
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("fetch: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return string(body), fmt.Errorf("fetch: %s", resp.Status)
	}
	return string(body), nil
}
