package callevents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSink forwards call events to the external collector
// (POST /call-events). Any non-2xx response is reported as an error and left
// for the Logger to swallow; the collector offers no delivery guarantee.
type HTTPSink struct {
	url string
	hc  *http.Client
}

func NewHTTPSink(url string) (*HTTPSink, error) {
	if url == "" {
		return nil, errors.New("callevents: sink url is required")
	}
	return &HTTPSink{
		url: url,
		hc:  &http.Client{Timeout: 3 * time.Second},
	}, nil
}

type sinkPayload struct {
	BookingID string          `json:"bookingId"`
	Event     string          `json:"event"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (s *HTTPSink) Append(ctx context.Context, e Event) error {
	p := sinkPayload{
		BookingID: e.BookingID,
		Event:     string(e.Kind),
		Timestamp: e.CreatedAt,
	}
	if e.Metadata != "" {
		p.Metadata = json.RawMessage(e.Metadata)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callevents: sink returned status %d", resp.StatusCode)
	}
	return nil
}
