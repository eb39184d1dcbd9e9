// Package encoder 将识别出的文本编码为 txt / pdf / docx 三种产物
package encoder

import (
	"errors"
	"strings"
	"sync"

	"github.com/freedkr/ocrflow/internal/model"
)

// Encoder 产物编码器，可并发使用
type Encoder struct {
	layout PDFLayout

	fontOnce sync.Once
	font     *pdfFont
	fontErr  error
}

// New 创建编码器
func New(layout PDFLayout) *Encoder {
	return &Encoder{layout: layout}
}

// Encode 在内存中生成三种格式，任意一种失败则整体失败
func (e *Encoder) Encode(text string) (*model.ArtifactSet, error) {
	rendered := text
	if strings.TrimSpace(rendered) == "" {
		rendered = model.NoTextExtracted
	}

	font, err := e.pdfFont()
	if err != nil {
		return nil, model.NewSystemError(model.ErrCodeEncodingError, "encoder", "font", "artifact encoding failed", err)
	}
	pdf, err := encodePDF(rendered, e.layout, font)
	if err != nil {
		var unsupported *UnsupportedRuneError
		if errors.As(err, &unsupported) {
			return nil, model.NewSystemError(model.ErrCodeEncodingError, "encoder", "pdf",
				"text contains characters that cannot be rendered in PDF", err)
		}
		return nil, model.NewSystemError(model.ErrCodeEncodingError, "encoder", "pdf", "artifact encoding failed", err)
	}
	docx, err := encodeDOCX(rendered)
	if err != nil {
		return nil, model.NewSystemError(model.ErrCodeEncodingError, "encoder", "docx", "artifact encoding failed", err)
	}

	return &model.ArtifactSet{
		Text: []byte(text),
		PDF:  pdf,
		DOCX: docx,
	}, nil
}

func (e *Encoder) pdfFont() (*pdfFont, error) {
	e.fontOnce.Do(func() {
		e.font, e.fontErr = loadFont(e.layout)
	})
	return e.font, e.fontErr
}
