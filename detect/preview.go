package detect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"

	"pdfdewm/document"
	"pdfdewm/ir/raw"
)

// ErrNoPreview marks candidates whose pixels cannot be rendered: text
// candidates, and images in codecs this package does not decode.
var ErrNoPreview = errors.New("no preview available")

// Preview renders an image candidate as a thumbnail no larger than
// maxDim on either side. Soft masks become the alpha channel so
// transparent watermarks preview the way they print.
func (d *Detector) Preview(ctx context.Context, doc *document.Document, c Candidate, maxDim int) (image.Image, error) {
	if c.Kind != KindImage {
		return nil, ErrNoPreview
	}
	obj, err := doc.Resolve(c.Ref)
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("%s is not a stream", c.Ref)
	}
	img, err := decodeImage(ctx, doc, st)
	if err != nil {
		return nil, err
	}
	if mask := softMask(ctx, doc, st); mask != nil {
		img = applyAlpha(img, mask)
	}
	return thumbnail(img, maxDim), nil
}

func decodeImage(ctx context.Context, doc *document.Document, st *raw.StreamObj) (image.Image, error) {
	names, _ := raw.FilterNames(doc.Raw(), st.Dict)
	for _, name := range names {
		switch name {
		case "DCTDecode":
			return jpeg.Decode(bytes.NewReader(st.Data))
		case "JPXDecode", "CCITTFaxDecode", "JBIG2Decode":
			return nil, ErrNoPreview
		}
	}
	data, err := doc.DecodeStream(ctx, st)
	if err != nil {
		return nil, err
	}
	return rawSamples(doc, st.Dict, data)
}

// rawSamples interprets decoded sample data for the common 8-bit
// colorspaces.
func rawSamples(doc *document.Document, dict *raw.DictObj, data []byte) (image.Image, error) {
	w, _ := raw.IntValue(doc.Raw(), dict, "Width")
	h, _ := raw.IntValue(doc.Raw(), dict, "Height")
	bpc, _ := raw.IntValue(doc.Raw(), dict, "BitsPerComponent")
	if w <= 0 || h <= 0 {
		return nil, ErrNoPreview
	}
	if bpc != 8 {
		return nil, ErrNoPreview
	}
	cs, _ := raw.NameValue(doc.Raw(), dict, "ColorSpace")
	var comps int
	switch cs {
	case "DeviceGray", "CalGray":
		comps = 1
	case "DeviceRGB", "CalRGB":
		comps = 3
	case "DeviceCMYK":
		comps = 4
	default:
		return nil, ErrNoPreview
	}
	width, height := int(w), int(h)
	if len(data) < width*height*comps {
		return nil, fmt.Errorf("image data short: %d bytes for %dx%dx%d", len(data), width, height, comps)
	}
	switch comps {
	case 1:
		img := image.NewGray(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			copy(img.Pix[y*img.Stride:], data[y*width:(y+1)*width])
		}
		return img, nil
	case 3:
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for i := 0; i < width*height; i++ {
			img.Pix[i*4+0] = data[i*3+0]
			img.Pix[i*4+1] = data[i*3+1]
			img.Pix[i*4+2] = data[i*3+2]
			img.Pix[i*4+3] = 0xFF
		}
		return img, nil
	default: // CMYK
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for i := 0; i < width*height; i++ {
			c, m, y, k := int(data[i*4]), int(data[i*4+1]), int(data[i*4+2]), int(data[i*4+3])
			img.Pix[i*4+0] = byte((255 - c) * (255 - k) / 255)
			img.Pix[i*4+1] = byte((255 - m) * (255 - k) / 255)
			img.Pix[i*4+2] = byte((255 - y) * (255 - k) / 255)
			img.Pix[i*4+3] = 0xFF
		}
		return img, nil
	}
}

// softMask decodes the image's /SMask into a grayscale alpha plane,
// nil when absent or undecodable.
func softMask(ctx context.Context, doc *document.Document, st *raw.StreamObj) *image.Gray {
	maskStream := raw.DerefStream(doc.Raw(), raw.DictValue(doc.Raw(), st.Dict, "SMask"))
	if maskStream == nil {
		return nil
	}
	img, err := decodeImage(ctx, doc, maskStream)
	if err != nil {
		return nil
	}
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	xdraw.Draw(g, b, img, b.Min, xdraw.Src)
	return g
}

func applyAlpha(img image.Image, mask *image.Gray) image.Image {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	xdraw.Draw(out, b, img, b.Min, xdraw.Src)
	mb := mask.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			// Nearest-neighbor sampling handles masks sized
			// differently from the base image.
			mx := mb.Min.X + x*mb.Dx()/b.Dx()
			my := mb.Min.Y + y*mb.Dy()/b.Dy()
			out.Pix[y*out.Stride+x*4+3] = mask.GrayAt(mx, my).Y
		}
	}
	return out
}

func thumbnail(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	tw, th := int(float64(w)*scale), int(float64(h)*scale)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, tw, th))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
