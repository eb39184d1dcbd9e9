package encoder

import (
	"fmt"
	"os"
	"unicode"

	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

// pdfFont 嵌入PDF的UTF-8 TrueType字体
type pdfFont struct {
	family string
	data   []byte
	face   *sfnt.Font
}

// loadFont 读取版式中配置的字体文件，未配置时使用内置的 Go Regular
func loadFont(layout PDFLayout) (*pdfFont, error) {
	data := goregular.TTF
	if layout.FontPath != "" {
		b, err := os.ReadFile(layout.FontPath)
		if err != nil {
			return nil, fmt.Errorf("读取字体文件失败: %w", err)
		}
		data = b
	}

	face, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("解析字体失败: %w", err)
	}

	family := layout.FontFamily
	if family == "" {
		family = defaultFontFamily
	}
	return &pdfFont{family: family, data: data, face: face}, nil
}

// UnsupportedRuneError 文本中存在字体无法渲染的字符
type UnsupportedRuneError struct {
	Family string
	Rune   rune
}

func (e *UnsupportedRuneError) Error() string {
	return fmt.Sprintf("字体%s不支持字符 %q (U+%04X)", e.Family, e.Rune, e.Rune)
}

// checkCoverage 返回第一个没有字形的字符
func (f *pdfFont) checkCoverage(text string) error {
	var buf sfnt.Buffer
	checked := make(map[rune]struct{})
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			continue
		}
		if _, ok := checked[r]; ok {
			continue
		}
		checked[r] = struct{}{}

		idx, err := f.face.GlyphIndex(&buf, r)
		if err != nil || idx == 0 {
			return &UnsupportedRuneError{Family: f.family, Rune: r}
		}
	}
	return nil
}
