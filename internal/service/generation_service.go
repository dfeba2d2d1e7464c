package service

import (
	"adaptive_engine_backend/internal/config"
	"adaptive_engine_backend/internal/util"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ItemContent 生成服务产出的题干与选项
type ItemContent struct {
	Text    string          `json:"text"`
	Options json.RawMessage `json:"options"`
}

// ContentGenerator 题目文本生成服务。可能失败或超时，失败可恢复：
// 编排器回退到已生成过内容的题目。
type ContentGenerator interface {
	GenerateItemContent(ctx context.Context, conceptName string, difficulty int) (*ItemContent, error)
}

// GenerationService OpenAI 兼容接口的生成客户端
type GenerationService struct {
	config config.GenerationConfig
	client *http.Client
}

func NewGenerationService(cfg config.GenerationConfig) *GenerationService {
	return &GenerationService{
		config: cfg,
		client: &http.Client{Timeout: cfg.TimeoutSeconds},
	}
}

type generationChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generationChatRequest struct {
	Model    string                  `json:"model"`
	Messages []generationChatMessage `json:"messages"`
}

type generationChatResponse struct {
	Choices []struct {
		Message generationChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *GenerationService) GenerateItemContent(ctx context.Context, conceptName string, difficulty int) (*ItemContent, error) {
	prompt := fmt.Sprintf(
		"针对概念「%s」生成一道难度为 %d/100 的测评题。"+
			"仅输出 JSON：{\"text\": \"题干\", \"options\": [{\"key\": \"A\", \"content\": \"...\"}, ...]}，不要输出其他内容。",
		conceptName, difficulty,
	)

	reqBody := generationChatRequest{
		Model: s.config.Model,
		Messages: []generationChatMessage{
			{Role: "system", Content: "你是一个测评题目生成器，只输出合法 JSON。"},
			{Role: "user", Content: prompt},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: generation request: %v", util.ErrExternalService, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: generation API status %d: %s", util.ErrExternalService, resp.StatusCode, string(body))
	}

	var result generationChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: generation response: %v", util.ErrExternalService, err)
	}

	if result.Error != nil {
		return nil, fmt.Errorf("%w: generation API: %s", util.ErrExternalService, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%w: generation returned no choices", util.ErrExternalService)
	}

	content := strings.TrimSpace(result.Choices[0].Message.Content)
	// 模型偶尔会包一层 markdown 代码块
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var item ItemContent
	if err := json.Unmarshal([]byte(content), &item); err != nil {
		return nil, fmt.Errorf("%w: generation output is not valid JSON: %v", util.ErrExternalService, err)
	}
	if item.Text == "" {
		return nil, fmt.Errorf("%w: generation output has empty text", util.ErrExternalService)
	}

	return &item, nil
}
