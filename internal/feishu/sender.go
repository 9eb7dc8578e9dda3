package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultTenantTokenURL = "https://open.feishu.cn/open-apis/auth/v3/tenant_access_token/internal"
	defaultSendMessageURL = "https://open.feishu.cn/open-apis/im/v1/messages?receive_id_type=chat_id"
	defaultReportQueryURL = "https://open.feishu.cn/open-apis/report/v1/tasks/query"
	defaultOKRBatchURL    = "https://open.feishu.cn/open-apis/okr/v1/okrs/batch_get"

	reportQueryPageSize = 20
	okrBatchSize        = 10
)

// Client talks to the Feishu open API: card delivery and report task
// queries. The tenant access token is cached until shortly before its
// expiry.
type Client struct {
	appID         string
	appSecret     string
	defaultChatID string
	client        *http.Client
	logger        *slog.Logger

	tokenURL   string
	messageURL string
	reportURL  string
	okrURL     string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(appID, appSecret, defaultChatID string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		appID:         appID,
		appSecret:     appSecret,
		defaultChatID: defaultChatID,
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
		tokenURL:      defaultTenantTokenURL,
		messageURL:    defaultSendMessageURL,
		reportURL:     defaultReportQueryURL,
		okrURL:        defaultOKRBatchURL,
	}
}

// SetTestTransport points every endpoint at a test server.
func (c *Client) SetTestTransport(baseURL string) {
	c.tokenURL = baseURL + "/auth/v3/tenant_access_token/internal"
	c.messageURL = baseURL + "/im/v1/messages"
	c.reportURL = baseURL + "/report/v1/tasks/query"
	c.okrURL = baseURL + "/okr/v1/okrs/batch_get"
}

// ReportTask is one submitted report returned by the tasks/query API.
type ReportTask struct {
	TaskID     string
	RuleID     string
	RuleName   string
	UserID     string
	UserName   string
	CommitTime time.Time
	Text       string
}

// SendCard delivers an interactive card to the default chat. Without a
// configured chat id the card is logged instead of sent, which keeps
// local and dry-run deployments working end to end.
func (c *Client) SendCard(ctx context.Context, card map[string]any) error {
	if c.defaultChatID == "" {
		preview, _ := json.Marshal(card)
		c.logger.Info("no chat configured, card preview only", "card", string(preview))
		return nil
	}

	token, err := c.tenantToken(ctx)
	if err != nil {
		return fmt.Errorf("tenant token: %w", err)
	}

	content, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}
	body, err := json.Marshal(map[string]any{
		"receive_id": c.defaultChatID,
		"msg_type":   "interactive",
		"content":    string(content),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messageURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("send card: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	c.logger.Info("card sent", "chat_id", c.defaultChatID)
	return nil
}

// QueryReportTasks pages through the report tasks submitted under a
// rule in the given commit window.
func (c *Client) QueryReportTasks(ctx context.Context, ruleID string, start, end time.Time) ([]ReportTask, error) {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("tenant token: %w", err)
	}

	var tasks []ReportTask
	pageToken := ""
	for {
		body, err := json.Marshal(map[string]any{
			"page_token":        pageToken,
			"commit_start_time": start.Unix(),
			"commit_end_time":   end.Unix(),
			"page_size":         reportQueryPageSize,
			"rule_id":           ruleID,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal query: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.reportURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("query report tasks: %w", err)
		}

		var payload struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				Items []struct {
					TaskID       json.Number `json:"task_id"`
					RuleID       json.Number `json:"rule_id"`
					RuleName     string      `json:"rule_name"`
					FromUserID   string      `json:"from_user_id"`
					FromUserName string      `json:"from_user_name"`
					CommitTime   int64       `json:"commit_time"`
					FormContents []struct {
						FieldName  string `json:"field_name"`
						FieldValue string `json:"field_value"`
					} `json:"form_contents"`
				} `json:"items"`
				HasMore   bool   `json:"has_more"`
				PageToken string `json:"page_token"`
			} `json:"data"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("query report tasks: status %d (rule %s)", resp.StatusCode, ruleID)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("decode report tasks: %w", decodeErr)
		}
		if payload.Code != 0 {
			return nil, fmt.Errorf("query report tasks: code %d: %s", payload.Code, payload.Msg)
		}

		for _, item := range payload.Data.Items {
			commit := end
			if item.CommitTime > 0 {
				commit = time.Unix(item.CommitTime, 0).UTC()
			}

			lines := []string{"【规则】" + item.RuleName}
			for _, field := range item.FormContents {
				name := strings.TrimSpace(field.FieldName)
				value := strings.TrimSpace(field.FieldValue)
				if value == "" {
					continue
				}
				if name != "" {
					lines = append(lines, name+": "+value)
				} else {
					lines = append(lines, value)
				}
			}

			tasks = append(tasks, ReportTask{
				TaskID:     item.TaskID.String(),
				RuleID:     item.RuleID.String(),
				RuleName:   item.RuleName,
				UserID:     item.FromUserID,
				UserName:   item.FromUserName,
				CommitTime: commit,
				Text:       strings.Join(lines, "\n"),
			})
		}

		if !payload.Data.HasMore || payload.Data.PageToken == "" {
			break
		}
		pageToken = payload.Data.PageToken
	}
	return tasks, nil
}

// tenantToken returns a cached tenant access token, refreshing it one
// minute before expiry.
func (c *Client) tenantToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}
	if c.appID == "" || c.appSecret == "" {
		return "", fmt.Errorf("app credentials are required")
	}

	body, err := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	var data struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || data.Code != 0 {
		return "", fmt.Errorf("fetch token: status %d code %d: %s", resp.StatusCode, data.Code, data.Msg)
	}

	expire := data.Expire
	if expire <= 0 {
		expire = 600
	}
	c.token = data.TenantAccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(expire-60) * time.Second)
	c.logger.Info("tenant token refreshed", "expires_in", expire)

	return c.token, nil
}
