package raster

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFCPUCounter 用 pdfcpu 读取页树统计页数，不做渲染。
type PDFCPUCounter struct {
	conf *model.Configuration
}

func NewPDFCPUCounter() *PDFCPUCounter {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFCPUCounter{conf: conf}
}

func (c *PDFCPUCounter) PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), c.conf)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu page count: %w", err)
	}
	return n, nil
}
