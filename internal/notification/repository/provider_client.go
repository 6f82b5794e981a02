package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatroom_realtime_service/internal/notification/domain"
)

// PushProvider definition push provider api
type PushProvider interface {
	// Send submit one batch, errors wrap domain.ErrProviderRejected or domain.ErrProviderUnavailable
	Send(ctx context.Context, msgs []domain.PushMessage) error
}

type httpPushProvider struct {
	url         string
	accessToken string
	client      *http.Client
}

// NewHTTPPushProvider create provider client posting JSON arrays to url
func NewHTTPPushProvider(url, accessToken string, timeout time.Duration) PushProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpPushProvider{
		url:         url,
		accessToken: accessToken,
		client:      &http.Client{Timeout: timeout},
	}
}

func (p *httpPushProvider) Send(ctx context.Context, msgs []domain.PushMessage) error {
	body, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.accessToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrProviderRejected, resp.StatusCode, detail)
	}
}
