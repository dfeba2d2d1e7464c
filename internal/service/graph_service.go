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
)

// PrerequisiteProvider 先修知识图谱服务：概念 → 先修概念集合
type PrerequisiteProvider interface {
	PrerequisitesOf(ctx context.Context, conceptID uint) ([]uint, error)
}

// TypeClassifier 题型分类服务（外部元数据源），题目入库时调用一次
type TypeClassifier interface {
	ClassifyItem(ctx context.Context, conceptCode, content string) (string, error)
}

// GraphService 图谱服务 HTTP 客户端，同时承担题型分类接口
type GraphService struct {
	config config.GraphConfig
	client *http.Client
}

func NewGraphService(cfg config.GraphConfig) *GraphService {
	return &GraphService{
		config: cfg,
		client: &http.Client{Timeout: cfg.TimeoutSeconds},
	}
}

func (s *GraphService) PrerequisitesOf(ctx context.Context, conceptID uint) ([]uint, error) {
	url := fmt.Sprintf("%s/concepts/%d/prerequisites", s.config.BaseURL, conceptID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: graph request: %v", util.ErrExternalService, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: graph API status %d: %s", util.ErrExternalService, resp.StatusCode, string(body))
	}

	var result struct {
		Prerequisites []uint `json:"prerequisites"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: graph response: %v", util.ErrExternalService, err)
	}

	return result.Prerequisites, nil
}

func (s *GraphService) ClassifyItem(ctx context.Context, conceptCode, content string) (string, error) {
	reqBody, err := json.Marshal(map[string]string{
		"concept": conceptCode,
		"content": content,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+"/classify",
		bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: classifier request: %v", util.ErrExternalService, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: classifier API status %d: %s", util.ErrExternalService, resp.StatusCode, string(body))
	}

	var result struct {
		AssessmentType string `json:"assessmentType"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: classifier response: %v", util.ErrExternalService, err)
	}

	return result.AssessmentType, nil
}
