// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package imaging validates and normalises images attached to posts.
// Large raster images are downscaled to a maximum width and re-encoded as
// JPEG; GIFs are passed through untouched so animations survive.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"

	"postfeed/internal/models"
)

const (
	// MaxBytes is the largest upload accepted.
	MaxBytes = 10 << 20

	// MaxWidth is the widest image stored; wider ones are scaled down.
	MaxWidth = 1600

	jpegQuality = 85
)

var (
	// ErrUnsupportedType is returned for payloads that are not jpeg, png, gif or webp.
	ErrUnsupportedType = errors.New("unsupported image type")
	// ErrTooLarge is returned for payloads over MaxBytes.
	ErrTooLarge = errors.New("image too large")
	// ErrEmpty is returned for a zero-length payload.
	ErrEmpty = errors.New("image is empty")
)

// allowed maps sniffed content types to their decoders.
var allowed = map[string]func([]byte) (image.Image, error){
	"image/jpeg": func(b []byte) (image.Image, error) { return jpeg.Decode(bytes.NewReader(b)) },
	"image/png":  func(b []byte) (image.Image, error) { return png.Decode(bytes.NewReader(b)) },
	"image/gif":  func(b []byte) (image.Image, error) { return gif.Decode(bytes.NewReader(b)) },
	"image/webp": func(b []byte) (image.Image, error) { return webp.Decode(bytes.NewReader(b)) },
}

// Validate checks size and sniffed content type without decoding. The
// declared content type is ignored; only the bytes are trusted.
func Validate(img *models.Image) error {
	if img.Size() == 0 {
		return ErrEmpty
	}
	if img.Size() > MaxBytes {
		return fmt.Errorf("%w: %s exceeds %d MB", ErrTooLarge, img.HumanSize(), MaxBytes>>20)
	}
	ct := sniff(img.Data)
	if _, ok := allowed[ct]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, ct)
	}
	return nil
}

// Normalize returns the image as it should be stored. The content type is
// replaced by the sniffed one. Images wider than MaxWidth are downscaled and
// re-encoded as JPEG with a .jpg filename; everything else passes through.
func Normalize(img *models.Image) (*models.Image, error) {
	if err := Validate(img); err != nil {
		return nil, err
	}

	ct := sniff(img.Data)
	out := &models.Image{Filename: img.Filename, ContentType: ct, Data: img.Data}
	if ct == "image/gif" {
		return out, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err == nil && cfg.Width <= MaxWidth {
		return out, nil
	}

	src, err := allowed[ct](img.Data)
	if err != nil {
		return nil, fmt.Errorf("imaging: decode %s: %w", ct, err)
	}
	b := src.Bounds()
	if b.Dx() <= MaxWidth {
		return out, nil
	}

	data, err := downscale(src, MaxWidth)
	if err != nil {
		return nil, err
	}

	slog.Debug("image downscaled",
		"filename", img.Filename,
		"from_width", b.Dx(),
		"to_width", MaxWidth,
		"from_bytes", len(img.Data),
		"to_bytes", len(data),
	)

	return &models.Image{
		Filename:    jpgName(img.Filename),
		ContentType: "image/jpeg",
		Data:        data,
	}, nil
}

// downscale resizes src to width, preserving aspect ratio, and encodes the
// result as JPEG. Transparent areas are flattened onto white.
func downscale(src image.Image, width int) ([]byte, error) {
	b := src.Bounds()
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("imaging: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func sniff(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

func jpgName(filename string) string {
	ext := path.Ext(filename)
	return strings.TrimSuffix(filename, ext) + ".jpg"
}
