package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"promptory/internal/realtime"
)

// Watch follows the server's change stream and calls fn for every change
// notice until ctx is done or the stream ends.
func (c *Client) Watch(ctx context.Context, fn func(realtime.Notice)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	// The stream is long lived; the default client timeout would cut it.
	hc := *c.httpClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error (%d)", resp.StatusCode)
	}

	err = readEvents(bufio.NewScanner(resp.Body), func(event, data string) error {
		if event != "change" {
			return nil
		}
		var n realtime.Notice
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			return fmt.Errorf("decode notice: %w", err)
		}
		fn(n)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents splits a text/event-stream body into (event, data) pairs.
func readEvents(sc *bufio.Scanner, fn func(event, data string) error) error {
	var event string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(data) > 0 {
				if err := fn(event, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", nil
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	return sc.Err()
}
