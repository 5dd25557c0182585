package donation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Avanquish/DoughNation-sub002/internal/logger"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
)

var (
	ErrAcceptRejected = errors.New("donation accept rejected")

	log = logger.New("donation")
)

// Client is the donation service as seen by the messenger: the one REST call
// it makes itself.
type Client interface {
	Accept(ctx context.Context, donationID models.ID) error
}

// HTTPClient talks to the donation REST API.
type HTTPClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Accept marks the donation request accepted on the server.
func (c *HTTPClient) Accept(ctx context.Context, donationID models.ID) error {
	url := fmt.Sprintf("%s/donations/%s/accept", c.BaseURL, donationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		log.Error("Accept request for donation %s failed: %v", donationID, err)
		return fmt.Errorf("accept donation %s: %w", donationID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn("Accept for donation %s returned %d: %s", donationID, resp.StatusCode, strings.TrimSpace(string(body)))
		return fmt.Errorf("%w: status %d", ErrAcceptRejected, resp.StatusCode)
	}

	log.Debug("Donation %s accepted", donationID)
	return nil
}
