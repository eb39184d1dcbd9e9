package encoder

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

const defaultFontFamily = "GoRegular"

// PDFLayout PDF版式参数，单位为pt
type PDFLayout struct {
	PageWidth  float64 `yaml:"page_width" env:"PDF_PAGE_WIDTH" default:"600"`
	PageHeight float64 `yaml:"page_height" env:"PDF_PAGE_HEIGHT" default:"800"`
	Margin     float64 `yaml:"margin" env:"PDF_MARGIN" default:"50"`
	FontFamily string  `yaml:"font_family" env:"PDF_FONT_FAMILY" default:"GoRegular"`
	// FontPath UTF-8 TrueType字体文件，为空时使用内置字体
	FontPath   string  `yaml:"font_path" env:"PDF_FONT_PATH"`
	FontSize   float64 `yaml:"font_size" env:"PDF_FONT_SIZE" default:"12"`
	LineHeight float64 `yaml:"line_height" env:"PDF_LINE_HEIGHT" default:"14"`
	WrapWidth  int     `yaml:"wrap_width" env:"PDF_WRAP_WIDTH" default:"90"`
}

// DefaultPDFLayout 默认版式：600x800页面，12pt字号，每行最多90字符
func DefaultPDFLayout() PDFLayout {
	return PDFLayout{
		PageWidth:  600,
		PageHeight: 800,
		Margin:     50,
		FontFamily: defaultFontFamily,
		FontSize:   12,
		LineHeight: 14,
		WrapWidth:  90,
	}
}

// LinesPerPage 每页可容纳的行数，至少为1
func (l PDFLayout) LinesPerPage() int {
	n := int((l.PageHeight - 2*l.Margin) / l.LineHeight)
	if n < 1 {
		return 1
	}
	return n
}

// PrintableWidth 左右页边距之间的宽度
func (l PDFLayout) PrintableWidth() float64 {
	return l.PageWidth - 2*l.Margin
}

func (l PDFLayout) validate() error {
	if l.PageWidth <= 2*l.Margin || l.PageHeight <= 2*l.Margin {
		return fmt.Errorf("页边距超出页面尺寸: %.0fx%.0f margin=%.0f", l.PageWidth, l.PageHeight, l.Margin)
	}
	if l.FontSize <= 0 || l.LineHeight <= 0 {
		return fmt.Errorf("无效的字号或行高: %.1f/%.1f", l.FontSize, l.LineHeight)
	}
	return nil
}

// pdfDocument 设置好页面和字体的文档
type pdfDocument struct {
	pdf    *fpdf.Fpdf
	layout PDFLayout
}

func newPDFDocument(layout PDFLayout, font *pdfFont) (*pdfDocument, error) {
	if err := layout.validate(); err != nil {
		return nil, err
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: layout.PageWidth, Ht: layout.PageHeight},
	})
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(layout.Margin, layout.Margin, layout.Margin)
	pdf.AddUTF8FontFromBytes(font.family, "", font.data)
	pdf.SetFont(font.family, "", layout.FontSize)
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("加载字体失败: %w", err)
	}
	return &pdfDocument{pdf: pdf, layout: layout}, nil
}

// width 当前字体下的排版宽度
func (d *pdfDocument) width(s string) float64 {
	return d.pdf.GetStringWidth(s)
}

// lines 折行：不超过字符上限，也不超过可打印宽度
func (d *pdfDocument) lines(text string) []string {
	printable := d.layout.PrintableWidth()
	return WrapLinesFunc(text, d.layout.WrapWidth, func(s string) bool {
		return d.width(s) <= printable
	})
}

// render 逐行输出，超出一页的内容自动换页
func (d *pdfDocument) render(text string) ([]byte, error) {
	layout := d.layout
	perPage := layout.LinesPerPage()
	top := layout.Margin + layout.FontSize

	d.pdf.AddPage()
	for i, line := range d.lines(text) {
		if i > 0 && i%perPage == 0 {
			d.pdf.AddPage()
		}
		if line == "" {
			continue
		}
		y := top + float64(i%perPage)*layout.LineHeight
		d.pdf.Text(layout.Margin, y, line)
	}

	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("生成PDF失败: %w", err)
	}
	return buf.Bytes(), nil
}

// encodePDF 将文本排版为分页PDF，字体缺字时整体失败
func encodePDF(text string, layout PDFLayout, font *pdfFont) ([]byte, error) {
	if err := font.checkCoverage(text); err != nil {
		return nil, err
	}
	doc, err := newPDFDocument(layout, font)
	if err != nil {
		return nil, err
	}
	return doc.render(text)
}
