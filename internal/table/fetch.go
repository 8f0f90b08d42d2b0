package table

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// maxBody caps a dataset response.
const maxBody = 32 << 20

// HTTPFetcher fetches datasets as JSON from BaseURL + url.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher returns a fetcher with a bounded client timeout.
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch issues GET {BaseURL}{url}.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Dataset, error) {
	full := url
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		full = f.BaseURL + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return Dataset{URL: url}, err
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Dataset{URL: url}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Dataset{URL: url}, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Dataset{URL: url}, err
	}
	ds, err := Decode(body)
	ds.URL = url
	return ds, err
}

// Decode accepts a JSON array of objects or an object holding the array
// under "rows" or "data". Columns follow the first row's keys in sorted
// order unless the object names them under "columns".
func Decode(body []byte) (Dataset, error) {
	var rows []Row
	var columns []string

	trimmed := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := decodeNumbers(body, &rows); err != nil {
			return Dataset{}, fmt.Errorf("decode rows: %w", err)
		}
	case strings.HasPrefix(trimmed, "{"):
		var wrapper struct {
			Columns []string `json:"columns"`
			Rows    []Row    `json:"rows"`
			Data    []Row    `json:"data"`
		}
		if err := decodeNumbers(body, &wrapper); err != nil {
			return Dataset{}, fmt.Errorf("decode rows: %w", err)
		}
		rows = wrapper.Rows
		if rows == nil {
			rows = wrapper.Data
		}
		columns = wrapper.Columns
	default:
		return Dataset{}, fmt.Errorf("decode rows: expected JSON array or object")
	}

	if len(columns) == 0 && len(rows) > 0 {
		for k := range rows[0] {
			columns = append(columns, k)
		}
		sort.Strings(columns)
	}
	return Dataset{Columns: columns, Rows: rows}, nil
}

func decodeNumbers(body []byte, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	return dec.Decode(v)
}
