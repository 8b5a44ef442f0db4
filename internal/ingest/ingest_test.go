package ingest

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/weaponid/internal/apperr"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func translucentPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: 80})
		}
	}
	return encodePNG(t, img)
}

func multipartFile(t *testing.T, filename string, payload []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	form, err := multipart.NewReader(body, writer.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { form.RemoveAll() })
	require.Len(t, form.File["image"], 1)
	return form.File["image"][0]
}

func TestFromBytesNormalizesToRGB(t *testing.T) {
	buf, err := FromBytes(translucentPNG(t))
	require.NoError(t, err)

	assert.Equal(t, "png", buf.Format)
	assert.Equal(t, "RGBA", buf.ColorMode)
	assert.Equal(t, 4, buf.Width())
	assert.Equal(t, 3, buf.Height())

	px := buf.Image.NRGBAAt(1, 1)
	assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 255}, px)
}

func TestFromBytesColorModes(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	buf, err := FromBytes(encodePNG(t, gray))
	require.NoError(t, err)
	assert.Equal(t, "L", buf.ColorMode)

	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil))
	buf, err = FromBytes(jpg.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "jpeg", buf.Format)
	assert.Equal(t, "RGB", buf.ColorMode)
}

func TestFromBytesCorrupt(t *testing.T) {
	_, err := FromBytes([]byte("definitely not an image"))
	assert.Equal(t, apperr.CorruptImage, apperr.KindOf(err))

	truncated := translucentPNG(t)
	_, err = FromBytes(truncated[:len(truncated)/2])
	assert.Equal(t, apperr.CorruptImage, apperr.KindOf(err))
}

func TestFromBase64(t *testing.T) {
	data := translucentPNG(t)
	std := base64.StdEncoding.EncodeToString(data)

	cases := map[string]string{
		"plain":       std,
		"data uri":    "data:image/png;base64," + std,
		"unpadded":    base64.RawStdEncoding.EncodeToString(data),
		"surrounding": "  " + std + "\n",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			buf, err := FromBase64(payload)
			require.NoError(t, err)
			assert.Equal(t, data, buf.Data)
			assert.Equal(t, "png", buf.Format)
		})
	}
}

func TestFromBase64Failures(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		kind    apperr.Kind
	}{
		{name: "not base64", payload: "not-base64-data", kind: apperr.InvalidEncoding},
		{name: "empty", payload: "", kind: apperr.InvalidEncoding},
		{name: "bare data uri", payload: "data:image/png;base64,", kind: apperr.InvalidEncoding},
		{name: "not an image", payload: base64.StdEncoding.EncodeToString([]byte("hello world")), kind: apperr.CorruptImage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromBase64(tc.payload)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
}

func TestFromMultipart(t *testing.T) {
	fh := multipartFile(t, "../../evil dir/rifle photo.png", translucentPNG(t))
	buf, err := FromMultipart(fh)
	require.NoError(t, err)
	assert.Equal(t, "rifle_photo.png", buf.OriginalName)
	assert.Equal(t, "RGBA", buf.ColorMode)
}

func TestFromMultipartEmpty(t *testing.T) {
	_, err := FromMultipart(nil)
	assert.Equal(t, apperr.EmptyUpload, apperr.KindOf(err))

	_, err = FromMultipart(&multipart.FileHeader{Filename: ""})
	assert.Equal(t, apperr.EmptyUpload, apperr.KindOf(err))

	_, err = FromMultipart(&multipart.FileHeader{Filename: "big.png", Size: MaxUploadSize + 1})
	assert.Equal(t, apperr.PayloadTooLarge, apperr.KindOf(err))
}

func TestAcceptedContentType(t *testing.T) {
	for ct, want := range map[string]bool{
		"":                         true,
		"image/png":                true,
		"image/jpeg; charset=x":    true,
		"application/octet-stream": true,
		"text/plain":               false,
		"application/pdf":          false,
	} {
		assert.Equal(t, want, acceptedContentType(ct), ct)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"photo.jpg":           "photo.jpg",
		"../../etc/passwd":    "passwd",
		`..\..\windows\x.png`: "x.png",
		".hidden":             "hidden",
		"":                    "upload",
		"rifle (1).png":       "rifle_1_.png",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}
