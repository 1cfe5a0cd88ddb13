package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"quiz_solver_backend/internal/config"
	"quiz_solver_backend/internal/util"
	"quiz_solver_backend/pkg/monitoring"
)

// CompletionClient 补全端点抽象，求解器只依赖该接口
type CompletionClient interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// AIService 调用 OpenAI 兼容的 /chat/completions 端点
type AIService struct {
	config config.AIConfig
	client *http.Client
}

func NewAIService(cfg config.AIConfig) *AIService {
	return &AIService{
		config: cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model    string          `json:"model"`
	Messages []AIChatMessage `json:"messages"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete 发送一次补全请求并返回模型原文
// 连接层失败返回 ErrResolverUnavailable；429 按 Retry 节奏退避一次
func (s *AIService) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := []AIChatMessage{}
	if system != "" {
		messages = append(messages, AIChatMessage{Role: "system", Content: system})
	}
	messages = append(messages, AIChatMessage{Role: "user", Content: prompt})

	reqBody := ChatCompletionRequest{
		Model:    s.config.Model,
		Messages: messages,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	for attempt := 0; ; attempt++ {
		text, retryAfter, err := s.doRequest(ctx, jsonData)
		if err == nil {
			monitoring.LLMRequestCounter.WithLabelValues("ok").Inc()
			return text, nil
		}
		// 命中限流且还有首次重试额度时退避后再试
		if retryAfter > 0 && attempt == 0 {
			monitoring.LLMRequestCounter.WithLabelValues("rate_limited").Inc()
			select {
			case <-time.After(retryAfter):
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if errors.Is(err, util.ErrResolverUnavailable) {
			monitoring.LLMRequestCounter.WithLabelValues("unreachable").Inc()
		} else {
			monitoring.LLMRequestCounter.WithLabelValues("error").Inc()
		}
		return "", err
	}
}

func (s *AIService) doRequest(ctx context.Context, jsonData []byte) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		// 调用方取消或超时不算端点不可达
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, fmt.Errorf("%w: %v", util.ErrResolverUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", retryAfterDelay(resp), fmt.Errorf("AI API rate limited (status 429)")
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("AI API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", 0, err
	}
	if result.Error != nil {
		return "", 0, fmt.Errorf("AI API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", 0, fmt.Errorf("AI returned no choices")
	}
	return result.Choices[0].Message.Content, 0, nil
}

func retryAfterDelay(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil && d > 0 {
			return d
		}
	}
	return 2 * time.Second
}
