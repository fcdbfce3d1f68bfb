package webhook

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

// Client pings an uptime monitor while the relayer is healthy.
type Client struct {
	httpClient *resty.Client
	logger     *logger.Logger
}

func New(logger *logger.Logger) *Client {
	return &Client{
		httpClient: resty.New().SetTimeout(10 * time.Second),
		logger:     logger,
	}
}

// CallUptimeWebhook issues a GET to webhookURL and reports whether it succeeded.
// An empty URL is skipped.
func (c *Client) CallUptimeWebhook(ctx context.Context, webhookURL string) bool {
	if webhookURL == "" {
		return false
	}

	resp, err := c.httpClient.R().SetContext(ctx).Get(webhookURL)
	if err != nil {
		c.logger.Error("[CallUptimeWebhook][Get]", map[string]string{
			"url":   webhookURL,
			"error": err.Error(),
		})
		return false
	}
	if resp.IsError() {
		c.logger.Error("[CallUptimeWebhook] unexpected status", map[string]string{
			"url":         webhookURL,
			"status_code": resp.Status(),
		})
		return false
	}

	c.logger.Debug("[CallUptimeWebhook] ok", map[string]string{
		"url":         webhookURL,
		"status_code": resp.Status(),
	})
	return true
}
