// Package ingest turns uploaded or base64-encoded images into RGB buffers.
package ingest

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/example/weaponid/internal/apperr"
)

// MaxUploadSize bounds the decoded image size accepted from a single request.
const MaxUploadSize = 10 << 20

// Buffer is one request's decoded image. It is never shared between requests.
type Buffer struct {
	// Data holds the original encoded bytes.
	Data []byte
	// Image is the decoded picture normalized to opaque RGB.
	Image *image.NRGBA
	// Format is the detected encoding: jpeg, png, gif, bmp or tiff.
	Format string
	// ColorMode is the color mode the image declared before normalization.
	ColorMode string
	// OriginalName is the sanitized client filename, for logging only.
	OriginalName string
}

// Width of the decoded image in pixels.
func (b *Buffer) Width() int { return b.Image.Bounds().Dx() }

// Height of the decoded image in pixels.
func (b *Buffer) Height() int { return b.Image.Bounds().Dy() }

// FromMultipart reads and decodes an uploaded file part.
func FromMultipart(fh *multipart.FileHeader) (*Buffer, error) {
	if fh == nil {
		return nil, apperr.New(apperr.EmptyUpload, "未上传图片")
	}
	if strings.TrimSpace(fh.Filename) == "" {
		return nil, apperr.New(apperr.EmptyUpload, "未选择图片")
	}
	if fh.Size > MaxUploadSize {
		return nil, apperr.New(apperr.PayloadTooLarge, "图片过大")
	}
	if ct := fh.Header.Get("Content-Type"); !acceptedContentType(ct) {
		return nil, apperr.New(apperr.UnsupportedMedia, "不支持的文件类型")
	}

	f, err := fh.Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.EmptyUpload, "无法读取图片", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxUploadSize+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "读取图片失败", err)
	}
	if len(data) > MaxUploadSize {
		return nil, apperr.New(apperr.PayloadTooLarge, "图片过大")
	}
	if len(data) == 0 {
		return nil, apperr.New(apperr.EmptyUpload, "未选择图片")
	}

	buf, err := FromBytes(data)
	if err != nil {
		return nil, err
	}
	buf.OriginalName = SanitizeFilename(fh.Filename)
	return buf, nil
}

// FromBase64 decodes a base64 payload, optionally carrying a data-URI header.
func FromBase64(payload string) (*Buffer, error) {
	encoded := stripDataURI(strings.TrimSpace(payload))
	if encoded == "" {
		return nil, apperr.New(apperr.InvalidEncoding, "缺少图片数据")
	}
	if base64.StdEncoding.DecodedLen(len(encoded)) > MaxUploadSize+3 {
		return nil, apperr.New(apperr.PayloadTooLarge, "图片过大")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(encoded)
		if rawErr != nil {
			return nil, apperr.Wrap(apperr.InvalidEncoding, "图片数据不是有效的Base64编码", err)
		}
	}
	if len(data) == 0 {
		return nil, apperr.New(apperr.InvalidEncoding, "图片数据不是有效的Base64编码")
	}
	if len(data) > MaxUploadSize {
		return nil, apperr.New(apperr.PayloadTooLarge, "图片过大")
	}
	return FromBytes(data)
}

// FromBytes decodes raw image bytes and normalizes them to RGB.
func FromBytes(data []byte) (*Buffer, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.CorruptImage, "无法解析图片", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperr.Wrap(apperr.CorruptImage, "无法解析图片", err)
	}

	return &Buffer{
		Data:      data,
		Image:     toRGB(img),
		Format:    format,
		ColorMode: colorMode(cfg.ColorModel),
	}, nil
}

// toRGB copies img into an opaque NRGBA, discarding alpha without compositing.
func toRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

func colorMode(m color.Model) string {
	if _, ok := m.(color.Palette); ok {
		return "P"
	}
	switch m {
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model:
		return "RGBA"
	case color.GrayModel, color.Gray16Model:
		return "L"
	case color.CMYKModel:
		return "CMYK"
	case color.AlphaModel, color.Alpha16Model:
		return "A"
	}
	return "RGB"
}

// acceptedContentType allows image/* parts and parts that carry no useful type.
func acceptedContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/octet-stream" || strings.HasPrefix(mediaType, "image/")
}

func stripDataURI(s string) string {
	if !strings.HasPrefix(strings.ToLower(s), "data:") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return ""
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename reduces a client-supplied name to a safe base name.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}
