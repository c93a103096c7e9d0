package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	xerrors "ConsensusMCP-Chain/internal/errors"
	"ConsensusMCP-Chain/internal/llm"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModelName   = "gpt-4o-mini"
	defaultTimeout     = 60 * time.Second
	defaultTemperature = 0.3
	// 429 与 5xx 各重试一次，其余状态直接返回。
	defaultRetries = 1
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 调用 OpenAI 兼容的 chat/completions 接口。
type Client struct {
	model string
	http  *resty.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(defaultRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil || resp == nil {
				return false
			}
			code := resp.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})
	return &Client{model: model, http: client}, nil
}

// Complete 调用 chat/completions 并返回第一条回复文本。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var (
		out     chatResponse
		failure apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(c.buildRequest(req)).
		SetResult(&out).
		SetError(&failure).
		Post("/chat/completions")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "请求 OpenAI 失败")
	}
	if resp.IsError() {
		detail := strings.TrimSpace(failure.Error.Message)
		if detail == "" {
			detail = strings.TrimSpace(resp.String())
		}
		return nil, xerrors.New(xerrors.CodeUpstreamFailure,
			fmt.Sprintf("OpenAI 返回错误状态 %d: %s", resp.StatusCode(), detail),
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode())),
			xerrors.WithMetadata("model", c.model))
	}
	if len(out.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "OpenAI 响应中没有有效的 choices")
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "OpenAI 响应内容为空")
	}
	return &llm.Response{Text: content}, nil
}

func (c *Client) buildRequest(req llm.Request) chatRequest {
	messages := make([]chatMessage, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	return chatRequest{Model: c.model, Messages: messages, Temperature: temperature}
}
