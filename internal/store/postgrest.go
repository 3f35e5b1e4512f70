package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// PostgRESTStore implements RowStore against a PostgREST endpoint (e.g. Supabase /rest/v1).
type PostgRESTStore struct {
	baseURL string
	key     string
	http    *http.Client
}

// HTTPError is a non-2xx response from the REST endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("postgrest: status %d: %s", e.Status, e.Body)
}

// NewPostgREST creates a store for baseURL (the project URL, without /rest/v1).
func NewPostgREST(baseURL, key string, timeout time.Duration) *PostgRESTStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PostgRESTStore{
		baseURL: strings.TrimRight(baseURL, "/") + "/rest/v1/",
		key:     key,
		http:    &http.Client{Timeout: timeout},
	}
}

// Close is a no-op; the HTTP client holds no resources worth releasing.
func (s *PostgRESTStore) Close() error { return nil }

// fetchPage is the page size requested per FetchAll round trip. The server may
// cap pages lower (max-rows), so paging stops only on an empty page.
const fetchPage = 1000

// FetchAll reads table page by page, ordered by its key column.
func (s *PostgRESTStore) FetchAll(ctx context.Context, table string) ([]Row, error) {
	cols, err := Columns(table)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, table)
	}

	var rows []Row
	for {
		q := url.Values{
			"select": {"*"},
			"order":  {cols[0] + ".asc"},
			"limit":  {strconv.Itoa(fetchPage)},
			"offset": {strconv.Itoa(len(rows))},
		}
		body, err := s.do(ctx, http.MethodGet, table, q, nil, "")
		if err != nil {
			return nil, err
		}

		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var raw []map[string]any
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		if len(raw) == 0 {
			break
		}
		for _, r := range raw {
			rows = append(rows, Row(r))
		}
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

func (s *PostgRESTStore) Upsert(ctx context.Context, table string, rows []Row, conflictKey string) error {
	if len(rows) == 0 {
		return nil
	}
	if _, err := Columns(table); err != nil {
		return fmt.Errorf("%w: %s", err, table)
	}
	if !hasColumn(table, conflictKey) {
		return fmt.Errorf("%w: column %s.%s", ErrUnknownTable, table, conflictKey)
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	q := url.Values{"on_conflict": {conflictKey}}
	_, err = s.do(ctx, http.MethodPost, table, q, payload, "resolution=merge-duplicates,return=minimal")
	return err
}

func (s *PostgRESTStore) DeleteWhere(ctx context.Context, table string, f Filter) error {
	if len(f) == 0 {
		return nil
	}
	if _, err := Columns(table); err != nil {
		return fmt.Errorf("%w: %s", err, table)
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		if !hasColumn(table, k) {
			return fmt.Errorf("%w: column %s.%s", ErrUnknownTable, table, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	q := url.Values{}
	for _, k := range keys {
		q.Set(k, "eq."+fmt.Sprint(f[k]))
	}
	_, err := s.do(ctx, http.MethodDelete, table, q, nil, "return=minimal")
	return err
}

func (s *PostgRESTStore) do(ctx context.Context, method, table string, q url.Values, body []byte, prefer string) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+table+"?"+q.Encode(), rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
