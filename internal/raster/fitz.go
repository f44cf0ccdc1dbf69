package raster

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// FitzEngine 通过 go-fitz 调用 MuPDF 渲染。
type FitzEngine struct{}

func (FitzEngine) Open(data []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &fitzDocument{doc: doc}, nil
}

// go-fitz 内部对底层 context 加锁
type fitzDocument struct {
	doc *fitz.Document
}

func (d *fitzDocument) NumPage() int {
	return d.doc.NumPage()
}

func (d *fitzDocument) RenderPage(index int, dpi float64) (image.Image, error) {
	img, err := d.doc.ImageDPI(index, dpi)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (d *fitzDocument) Close() error {
	return d.doc.Close()
}
