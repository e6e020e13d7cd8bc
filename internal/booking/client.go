package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	ErrNotFound   = errors.New("booking: not found")
	ErrUnexpected = errors.New("booking: unexpected response")
)

// Client fetches bookings from the external bookings API.
//
// The bookings service is an external collaborator; this client carries no
// business rules. Every lookup is bounded by the configured timeout so a hung
// upstream cannot leave a session stuck in the loading phase.
type Client struct {
	baseURL string
	hc      *http.Client
}

func NewClient(baseURL string, fetchTimeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("booking: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("booking: invalid base URL: %w", err)
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: fetchTimeout},
	}, nil
}

type getBookingResponse struct {
	Booking Booking `json:"booking"`
}

// Get returns the booking by id.
// Returns ErrNotFound for a 404 so callers can distinguish a bad link from an
// upstream failure.
func (c *Client) Get(ctx context.Context, bookingID string) (Booking, error) {
	if bookingID == "" {
		return Booking{}, errors.New("booking: id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bookings/"+url.PathEscape(bookingID), nil)
	if err != nil {
		return Booking{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return Booking{}, fmt.Errorf("booking: fetch failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Booking{}, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Booking{}, fmt.Errorf("%w: status %d", ErrUnexpected, resp.StatusCode)
	}

	var out getBookingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Booking{}, fmt.Errorf("booking: decode failed: %w", err)
	}
	if out.Booking.ID == "" {
		return Booking{}, fmt.Errorf("%w: empty booking payload", ErrUnexpected)
	}
	return out.Booking, nil
}
