// Package email sends transactional notifications through a listmonk-style
// HTTP API. An unconfigured client logs instead of sending, so local setups
// work without a mail service.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type Config struct {
	BaseURL           string
	Username          string
	Password          string
	CommentTemplateID int
}

type Client struct {
	config Config
	http   *http.Client
}

func New(cfg Config) *Client {
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

type txRequest struct {
	SubscriberEmail string            `json:"subscriber_email"`
	TemplateID      int               `json:"template_id"`
	Data            map[string]string `json:"data"`
	ContentType     string            `json:"content_type"`
}

func (c *Client) send(ctx context.Context, toEmail string, templateID int, data map[string]string) error {
	body := txRequest{
		SubscriberEmail: toEmail,
		TemplateID:      templateID,
		Data:            data,
		ContentType:     "html",
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/tx", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.config.Username, c.config.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mail service returned status %d", resp.StatusCode)
	}
	return nil
}

// SendCommentNotification tells a video's owner that a client left a comment.
func (c *Client) SendCommentNotification(ctx context.Context, toEmail, toName, videoTitle, commentAuthor, commentBody, reviewURL string) error {
	if c.config.BaseURL == "" {
		slog.Info("email not configured — skipping comment notification",
			"video", videoTitle, "author", commentAuthor)
		return nil
	}

	return c.send(ctx, toEmail, c.config.CommentTemplateID, map[string]string{
		"name":      toName,
		"title":     videoTitle,
		"author":    commentAuthor,
		"body":      commentBody,
		"reviewUrl": reviewURL,
	})
}
