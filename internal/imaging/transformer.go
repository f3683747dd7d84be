package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/andresuchdata/thumbnailer/internal/domain"
)

const (
	opMeasure   = "measure"
	opTransform = "transform"
)

// Gravity selects the anchor of the crop window.
type Gravity string

const GravityCenter Gravity = "center"

// ContentTypePNG is the content type of every thumbnail.
const ContentTypePNG = "image/png"

// Dimensions is the pixel size of a decoded image.
type Dimensions struct {
	Width  int
	Height int
}

// Landscape reports whether the image is wider than it is tall.
func (d Dimensions) Landscape() bool {
	return d.Width > d.Height
}

// TransformSpec describes the thumbnail to produce.
type TransformSpec struct {
	TargetWidth   int
	TargetHeight  int
	Gravity       Gravity
	Format        string
	StripMetadata bool
}

// ThumbnailSpec is the fixed 60x60 centered PNG thumbnail.
var ThumbnailSpec = TransformSpec{
	TargetWidth:   60,
	TargetHeight:  60,
	Gravity:       GravityCenter,
	Format:        "png",
	StripMetadata: true,
}

// Transformer measures and rescales images. The zero value is ready to use
// and safe for concurrent callers.
type Transformer struct {
	Scaler draw.Scaler
}

// NewTransformer returns a Transformer using Catmull-Rom resampling.
func NewTransformer() *Transformer {
	return &Transformer{Scaler: draw.CatmullRom}
}

// Measure reads the image header and returns its size.
func (t *Transformer) Measure(ctx context.Context, data []byte) (Dimensions, error) {
	var dims Dimensions
	err := run(ctx, opMeasure, func() error {
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return domain.Wrap(domain.KindDecode, opMeasure, "read image header", err)
		}
		if cfg.Width <= 0 || cfg.Height <= 0 {
			return domain.NewError(domain.KindDecode, opMeasure, fmt.Sprintf("image has no pixels (%dx%d)", cfg.Width, cfg.Height))
		}
		dims = Dimensions{Width: cfg.Width, Height: cfg.Height}

		log.Debug().
			Str("format", format).
			Int("width", dims.Width).
			Int("height", dims.Height).
			Bool("landscape", dims.Landscape()).
			Msg("measured source image")
		return nil
	})
	if err != nil {
		return Dimensions{}, err
	}
	return dims, nil
}

// CropResizeReencode crops the largest centered square out of data, scales
// it to the requested size and encodes the result as PNG.
func (t *Transformer) CropResizeReencode(ctx context.Context, data []byte, spec TransformSpec) ([]byte, string, error) {
	if spec.TargetWidth <= 0 || spec.TargetHeight <= 0 {
		return nil, "", domain.NewError(domain.KindEncode, opTransform, fmt.Sprintf("invalid target size %dx%d", spec.TargetWidth, spec.TargetHeight))
	}
	if spec.Format != "" && spec.Format != "png" {
		return nil, "", domain.NewError(domain.KindEncode, opTransform, fmt.Sprintf("unsupported output format %q", spec.Format))
	}

	var out []byte
	err := run(ctx, opTransform, func() error {
		src, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return domain.Wrap(domain.KindDecode, opTransform, "decode image", err)
		}

		b := src.Bounds()
		rect := CropRect(b.Dx(), b.Dy()).Add(b.Min)
		if rect.Empty() {
			return domain.NewError(domain.KindDecode, opTransform, "image has no pixels")
		}

		dst := image.NewNRGBA(image.Rect(0, 0, spec.TargetWidth, spec.TargetHeight))
		t.scaler().Scale(dst, dst.Bounds(), src, rect, draw.Src, nil)

		var buf bytes.Buffer
		if err := png.Encode(&buf, dst); err != nil {
			return domain.Wrap(domain.KindEncode, opTransform, "encode png", err)
		}
		out = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, ContentTypePNG, nil
}

// CropRect returns the centered square of side min(w, h). An odd remainder
// leaves the extra pixel on the right or bottom edge.
func CropRect(w, h int) image.Rectangle {
	side := w
	if h < side {
		side = h
	}
	if side <= 0 {
		return image.Rectangle{}
	}
	x0 := (w - side) / 2
	y0 := (h - side) / 2
	return image.Rect(x0, y0, x0+side, y0+side)
}

func (t *Transformer) scaler() draw.Scaler {
	if t == nil || t.Scaler == nil {
		return draw.CatmullRom
	}
	return t.Scaler
}

// run executes fn under ctx. The caller gets a transient error as soon as ctx
// ends; fn keeps running in the background and its result is discarded. A
// panic in fn is reported as an unknown error.
func run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return domain.Wrap(domain.KindTransient, op, "context done before "+op, err)
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("op", op).Msg("image operation panicked")
				done <- domain.NewError(domain.KindUnknown, op, fmt.Sprintf("panic: %v", r))
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return domain.Wrap(domain.KindTransient, op, op+" exceeded deadline", ctx.Err())
	}
}
