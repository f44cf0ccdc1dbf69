package pageproc

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	WatermarkAngle   = 45.0
	WatermarkOpacity = 0.22
	// 水印文字宽度占页面对角线的比例
	watermarkSpan   = 0.6
	minWatermarkPt  = 12.0
	measureFontSize = 100.0
)

var watermarkColor = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

var (
	fontOnce   sync.Once
	parsedFont *opentype.Font
	fontErr    error
)

func watermarkFont() (*opentype.Font, error) {
	fontOnce.Do(func() {
		parsedFont, fontErr = opentype.Parse(goregular.TTF)
	})
	return parsedFont, fontErr
}

// applyWatermark 在页面中心斜向叠加文字。
func applyWatermark(img image.Image, text string) (*image.NRGBA, error) {
	f, err := watermarkFont()
	if err != nil {
		return nil, fmt.Errorf("load watermark font: %w", err)
	}

	bounds := img.Bounds()
	diagonal := math.Hypot(float64(bounds.Dx()), float64(bounds.Dy()))

	size, err := fitFontSize(f, text, diagonal*watermarkSpan)
	if err != nil {
		return nil, err
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingNone})
	if err != nil {
		return nil, fmt.Errorf("create watermark face: %w", err)
	}
	defer face.Close()

	metrics := face.Metrics()
	textWidth := font.MeasureString(face, text).Ceil()
	textHeight := (metrics.Ascent + metrics.Descent).Ceil()
	if textWidth <= 0 || textHeight <= 0 {
		return nil, fmt.Errorf("watermark text %q has no glyph extent", text)
	}

	layer := image.NewNRGBA(image.Rect(0, 0, textWidth, textHeight))
	drawer := &font.Drawer{
		Dst:  layer,
		Src:  image.NewUniform(watermarkColor),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: metrics.Ascent},
	}
	drawer.DrawString(text)

	rotated := imaging.Rotate(layer, WatermarkAngle, color.Transparent)

	base := imaging.Clone(img)
	rb := rotated.Bounds()
	pos := image.Pt(
		bounds.Min.X+(bounds.Dx()-rb.Dx())/2,
		bounds.Min.Y+(bounds.Dy()-rb.Dy())/2,
	)
	// Clone 会把原点移到 (0,0)
	pos = pos.Sub(bounds.Min)
	return imaging.Overlay(base, rotated, pos, WatermarkOpacity), nil
}

func fitFontSize(f *opentype.Font, text string, targetWidth float64) (float64, error) {
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: measureFontSize, DPI: 72, Hinting: font.HintingNone})
	if err != nil {
		return 0, fmt.Errorf("create measure face: %w", err)
	}
	defer face.Close()

	advance := float64(font.MeasureString(face, text)) / 64
	if advance <= 0 {
		return 0, fmt.Errorf("watermark text %q has no glyph extent", text)
	}
	return math.Max(minWatermarkPt, measureFontSize*targetWidth/advance), nil
}

// flatten 铺白底去掉透明通道。
func flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out
}
