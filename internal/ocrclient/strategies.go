package ocrclient

import (
	"strings"

	"github.com/freedkr/ocrflow/internal/model"
)

// inferenceResponse OCR推理服务的响应，不同版本的服务字段不尽相同
type inferenceResponse struct {
	NumFiles     int                 `json:"num_files"`
	Results      []inferenceFile     `json:"results"`
	Concatenated *inferenceTextBlock `json:"concatenated"`
	Text         *string             `json:"text"`
	Lines        []string            `json:"lines"`
	Confidence   *float64            `json:"confidence"`
}

type inferenceFile struct {
	FileIndex  int      `json:"file_index"`
	Filename   string   `json:"filename"`
	Text       *string  `json:"text"`
	Lines      []string `json:"lines"`
	Confidence *float64 `json:"confidence"`
}

type inferenceTextBlock struct {
	Text  *string  `json:"text"`
	Lines []string `json:"lines"`
}

// Strategy 从响应中提取文本的一种方式，字段缺失或为空白时返回 false
type Strategy struct {
	Name    string
	Extract func(resp *inferenceResponse) (*model.OcrResult, bool)
}

// DefaultStrategies 按优先级排列：合并文本、首个结果文本、顶层文本
var DefaultStrategies = []Strategy{
	{
		Name: "concatenated",
		Extract: func(resp *inferenceResponse) (*model.OcrResult, bool) {
			if resp.Concatenated == nil || isBlank(resp.Concatenated.Text) {
				return nil, false
			}
			return &model.OcrResult{
				Text:       *resp.Concatenated.Text,
				Lines:      resp.Concatenated.Lines,
				Confidence: resp.Confidence,
			}, true
		},
	},
	{
		Name: "first_result",
		Extract: func(resp *inferenceResponse) (*model.OcrResult, bool) {
			if len(resp.Results) == 0 || isBlank(resp.Results[0].Text) {
				return nil, false
			}
			first := resp.Results[0]
			confidence := first.Confidence
			if confidence == nil {
				confidence = resp.Confidence
			}
			return &model.OcrResult{
				Text:       *first.Text,
				Lines:      first.Lines,
				Confidence: confidence,
			}, true
		},
	},
	{
		Name: "text",
		Extract: func(resp *inferenceResponse) (*model.OcrResult, bool) {
			if isBlank(resp.Text) {
				return nil, false
			}
			return &model.OcrResult{
				Text:       *resp.Text,
				Lines:      resp.Lines,
				Confidence: resp.Confidence,
			}, true
		},
	},
}

// extract 依次尝试各策略，全部落空时返回占位文本
func extract(resp *inferenceResponse, strategies []Strategy) *model.OcrResult {
	for _, s := range strategies {
		if result, ok := s.Extract(resp); ok {
			result.Strategy = s.Name
			return result
		}
	}
	return &model.OcrResult{
		Text:       model.NoTextExtracted,
		Strategy:   "fallback",
		Confidence: resp.Confidence,
	}
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
