package watermark

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/skip2/go-qrcode"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// maxImageHeight bounds embedded images; the overlay never needs more than a 4K frame.
const maxImageHeight = 2160

const (
	qrPixels = 512
	pdfDPI   = 150
)

// LoadImage reads a PNG, JPEG, GIF, WebP or PDF (first page) file and returns it as PNG.
func LoadImage(path string) ([]byte, error) {
	var img image.Image
	var err error
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		img, err = renderPDFPage(path, 0, pdfDPI)
	} else {
		img, err = decodeFile(path)
	}
	if err != nil {
		return nil, err
	}
	return encodePNG(fitHeight(img, maxImageHeight))
}

// QR encodes content as a QR code PNG.
func QR(content string) ([]byte, error) {
	data, err := qrcode.Encode(content, qrcode.Medium, qrPixels)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	return data, nil
}

func decodeFile(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func renderPDFPage(path string, index int, dpi float64) (image.Image, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if index >= doc.NumPage() {
		return nil, fmt.Errorf("pdf %s has %d pages", filepath.Base(path), doc.NumPage())
	}
	return doc.ImageDPI(index, dpi)
}

func fitHeight(img image.Image, max int) image.Image {
	b := img.Bounds()
	if b.Dy() <= max {
		return img
	}
	w := b.Dx() * max / b.Dy()
	if w < 1 {
		w = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, max))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
