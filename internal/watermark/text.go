package watermark

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/unicode/norm"
)

// Текст рисуется относительно 4K, чтобы при уменьшении в кадре оставаться четким.
const (
	baseHeight   = 2160
	sizeFactor   = 0.3
	minFontPx    = 40
	padding      = 20
	shadowOffset = 2
)

var (
	shadowColor = color.NRGBA{R: 0, G: 0, B: 0, A: 150}
	textColor   = color.NRGBA{R: 255, G: 255, B: 255, A: 229}
)

// DefaultFonts is tried after the configured fonts. CJK-capable faces come first.
var DefaultFonts = []string{
	"/System/Library/Fonts/PingFang.ttc",
	"/System/Library/Fonts/STHeiti Medium.ttc",
	"/Library/Fonts/Arial Unicode.ttf",
	"C:/Windows/Fonts/msyh.ttc",
	"C:/Windows/Fonts/msyh.ttf",
	"C:/Windows/Fonts/simhei.ttf",
	"C:/Windows/Fonts/simsun.ttc",
	"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/noto-cjk/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/truetype/wqy/wqy-microhei.ttc",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"C:/Windows/Fonts/arial.ttf",
}

// Rasterizer renders text to a transparent PNG using the first font of a fallback chain.
type Rasterizer struct {
	candidates []string

	mu     sync.Mutex
	parsed map[string]*sfnt.Font
}

func NewRasterizer(fonts []string) *Rasterizer {
	candidates := append(append([]string{}, fonts...), DefaultFonts...)
	return &Rasterizer{candidates: candidates, parsed: map[string]*sfnt.Font{}}
}

// FontSize returns the pixel size used for a relative watermark size.
func FontSize(size float64) int {
	px := int(size * baseHeight * sizeFactor)
	if px < minFontPx {
		px = minFontPx
	}
	return px
}

// Render draws a shadow pass and the white text, then crops to the opaque area.
func (r *Rasterizer) Render(text string, size float64) ([]byte, error) {
	text = norm.NFC.String(strings.TrimSpace(text))
	if text == "" {
		return nil, fmt.Errorf("watermark text is empty")
	}

	f, err := r.pick(text)
	if err != nil {
		return nil, err
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(FontSize(size)),
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("font face: %w", err)
	}
	defer face.Close()

	bounds, _ := font.BoundString(face, text)
	w := (bounds.Max.X - bounds.Min.X).Ceil()
	h := (bounds.Max.Y - bounds.Min.Y).Ceil()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("watermark text %q has no visible glyphs", text)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, w+2*padding+shadowOffset, h+2*padding+shadowOffset))
	origin := fixed.Point26_6{
		X: fixed.I(padding) - bounds.Min.X,
		Y: fixed.I(padding) - bounds.Min.Y,
	}

	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(shadowColor),
		Face: face,
		Dot:  origin.Add(fixed.P(shadowOffset, shadowOffset)),
	}
	d.DrawString(text)

	d.Src = image.NewUniform(textColor)
	d.Dot = origin
	d.DrawString(text)

	var buf bytes.Buffer
	if err := png.Encode(&buf, cropOpaque(canvas)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pick returns the first candidate covering every rune, else the first that parses,
// else the bundled Go font.
func (r *Rasterizer) pick(text string) (*sfnt.Font, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstLoaded *sfnt.Font
	for _, path := range r.candidates {
		f := r.load(path)
		if f == nil {
			continue
		}
		if firstLoaded == nil {
			firstLoaded = f
		}
		if covers(f, text) {
			return f, nil
		}
	}
	if firstLoaded != nil {
		return firstLoaded, nil
	}
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse fallback font: %w", err)
	}
	return f, nil
}

func (r *Rasterizer) load(path string) *sfnt.Font {
	if f, ok := r.parsed[path]; ok {
		return f
	}
	var f *sfnt.Font
	if data, err := os.ReadFile(path); err == nil {
		f = parseFont(path, data)
	}
	// nil тоже кешируем: отсутствующий файл не проверяем повторно
	r.parsed[path] = f
	return f
}

func parseFont(path string, data []byte) *sfnt.Font {
	if strings.HasSuffix(strings.ToLower(path), ".ttc") || strings.HasSuffix(strings.ToLower(path), ".otc") {
		coll, err := opentype.ParseCollection(data)
		if err != nil || coll.NumFonts() == 0 {
			return nil
		}
		f, err := coll.Font(0)
		if err != nil {
			return nil
		}
		return f
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil
	}
	return f
}

func covers(f *sfnt.Font, text string) bool {
	var buf sfnt.Buffer
	for _, r := range text {
		if r == ' ' {
			continue
		}
		idx, err := f.GlyphIndex(&buf, r)
		if err != nil || idx == 0 {
			return false
		}
	}
	return true
}

// cropOpaque copies the smallest rectangle holding every non-transparent pixel.
func cropOpaque(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.NRGBAAt(x, y).A == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < minX || maxY < minY {
		return img
	}

	rect := image.Rect(0, 0, maxX-minX+1, maxY-minY+1)
	out := image.NewNRGBA(rect)
	for y := 0; y < rect.Dy(); y++ {
		src := img.PixOffset(minX, minY+y)
		copy(out.Pix[y*out.Stride:y*out.Stride+rect.Dx()*4], img.Pix[src:src+rect.Dx()*4])
	}
	return out
}
