// Package narrative 剧情推进：调用 chat-completions 接口生成下一段剧情
package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-master/internal/config"
	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/plot"
)

// 提示词参数
const (
	SystemPrompt    = "你是一位专业的TRPG游戏主持人"
	promptPlotRunes = 3000
)

// Summary 会话摘要，用于生成提示词
type Summary struct {
	SessionID      string
	RuleSet        string
	PlotRef        string
	PlotContent    string
	Progress       string
	CharacterNames []string
}

// Collaborator 剧情推进服务
type Collaborator interface {
	Advance(ctx context.Context, s Summary) (string, error)
}

// httpError 非2xx响应
type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("narrative http %d: %s", e.StatusCode, e.Body)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Client chat-completions 客户端
type Client struct {
	cfg        config.NarrativeConfig
	httpClient *http.Client
	logger     *zap.Logger
	backoff    time.Duration
}

// NewClient 创建剧情推进客户端
func NewClient(cfg config.NarrativeConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		backoff:    time.Second,
	}
}

// Advance 生成下一段剧情，任何失败都返回 ErrNarrativeUnavailable
func (c *Client) Advance(ctx context.Context, s Summary) (string, error) {
	if !c.cfg.Enabled || strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", errors.New(errors.ErrNarrativeUnavailable, "剧情服务未启用")
	}

	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: BuildPrompt(s)},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	var resp chatResponse
	if err := c.do(ctx, req, &resp); err != nil {
		c.logger.Warn("剧情推进失败", zap.String("session_id", s.SessionID), zap.Error(err))
		return "", errors.Wrap(err, errors.ErrNarrativeUnavailable)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(errors.ErrNarrativeUnavailable, "模型没有返回内容")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New(errors.ErrNarrativeUnavailable, "模型没有返回内容")
	}
	return text, nil
}

func (c *Client) doOnce(ctx context.Context, body any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, body any, out any) error {
	backoff := c.backoff

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := c.doOnce(ctx, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("narrative decode error: %w", uErr)
			}
			return nil
		}

		if !retryable(err) || attempt == c.cfg.MaxRetries {
			return err
		}

		c.logger.Warn("剧情请求重试",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Duration("sleep", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

// retryable 网络错误、429与5xx可重试
func retryable(err error) bool {
	var he *httpError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= 500
	}
	return true
}

// BuildPrompt 生成用户提示词
func BuildPrompt(s Summary) string {
	mode := strings.ToUpper(s.RuleSet)
	var b strings.Builder
	fmt.Fprintf(&b, "你是一位专业的%s跑团主持人。请根据以下信息推进剧情：\n\n", mode)
	fmt.Fprintf(&b, "当前剧本：%s\n", s.PlotRef)
	fmt.Fprintf(&b, "剧本内容：%s...\n", plot.Truncate(s.PlotContent, promptPlotRunes))
	fmt.Fprintf(&b, "当前进度：%s\n", s.Progress)
	fmt.Fprintf(&b, "游戏模式：%s\n\n", mode)
	fmt.Fprintf(&b, "玩家角色：\n%s\n\n", strings.Join(s.CharacterNames, ", "))
	b.WriteString("请生成下一阶段的剧情发展，保持原剧本风格，提供生动的场景描述和NPC互动。\n")
	b.WriteString("回复请使用中文，保持叙事连贯性。")
	return b.String()
}
