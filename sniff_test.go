package overgrid

import (
	"encoding/binary"
	"errors"
	"testing"
	"unicode/utf16"
)

// --- Fixtures ---

// pngFixture builds a minimal PNG header: signature, IHDR length, and the
// IHDR chunk through width and height.
func pngFixture(w, h int) []byte {
	data := []byte("\x89PNG\r\n\x1a\n")
	data = append(data, 0, 0, 0, 13)
	data = append(data, "IHDR"...)
	data = binary.BigEndian.AppendUint32(data, uint32(w))
	data = binary.BigEndian.AppendUint32(data, uint32(h))
	// Bit depth, color type, compression, filter, interlace.
	return append(data, 8, 6, 0, 0, 0)
}

// jpegFixture builds SOI, an APP0 segment, a DHT segment (which shares the
// SOF marker range but must be skipped), and a start-of-frame.
func jpegFixture(w, h int, sofMarker byte) []byte {
	data := []byte{0xFF, 0xD8}
	data = append(data, 0xFF, 0xE0, 0x00, 0x10)
	data = append(data, "JFIF\x00"...)
	data = append(data, make([]byte, 9)...)
	data = append(data, 0xFF, 0xC4, 0x00, 0x04, 0x00, 0x00)
	data = append(data, 0xFF, sofMarker, 0x00, 0x11, 0x08)
	data = binary.BigEndian.AppendUint16(data, uint16(h))
	data = binary.BigEndian.AppendUint16(data, uint16(w))
	return append(data, 0x03)
}

func gifFixture(w, h int) []byte {
	data := []byte("GIF89a")
	data = binary.LittleEndian.AppendUint16(data, uint16(w))
	data = binary.LittleEndian.AppendUint16(data, uint16(h))
	return append(data, 0xF7, 0x00, 0x00)
}

func webpHeader(fourcc string) []byte {
	data := []byte("RIFF")
	data = binary.LittleEndian.AppendUint32(data, 100)
	data = append(data, "WEBP"...)
	data = append(data, fourcc...)
	return binary.LittleEndian.AppendUint32(data, 80)
}

func webpVP8Fixture(w, h int) []byte {
	data := webpHeader("VP8 ")
	data = append(data, 0x00, 0x00, 0x00)       // frame tag
	data = append(data, 0x9D, 0x01, 0x2A)       // sync code
	data = binary.LittleEndian.AppendUint16(data, uint16(w))
	data = binary.LittleEndian.AppendUint16(data, uint16(h))
	return data
}

func webpVP8LFixture(w, h int) []byte {
	data := webpHeader("VP8L")
	data = append(data, 0x2F)
	bits := uint32(w-1) | uint32(h-1)<<14
	return binary.LittleEndian.AppendUint32(data, bits)
}

func webpVP8XFixture(w, h int) []byte {
	data := webpHeader("VP8X")
	data = append(data, 0x00, 0x00, 0x00, 0x00) // flags, reserved
	wm, hm := w-1, h-1
	data = append(data, byte(wm), byte(wm>>8), byte(wm>>16))
	data = append(data, byte(hm), byte(hm>>8), byte(hm>>16))
	return data
}

func bmpFixture(w, h int32) []byte {
	data := []byte("BM")
	data = append(data, make([]byte, 12)...)
	data = binary.LittleEndian.AppendUint32(data, 40)
	data = binary.LittleEndian.AppendUint32(data, uint32(w))
	data = binary.LittleEndian.AppendUint32(data, uint32(h))
	return data
}

func bmpCoreFixture(w, h uint16) []byte {
	data := []byte("BM")
	data = append(data, make([]byte, 12)...)
	data = binary.LittleEndian.AppendUint32(data, 12)
	data = binary.LittleEndian.AppendUint16(data, w)
	data = binary.LittleEndian.AppendUint16(data, h)
	return data
}

func utf16LEFixture(s string) []byte {
	data := []byte{0xFF, 0xFE}
	for _, u := range utf16.Encode([]rune(s)) {
		data = binary.LittleEndian.AppendUint16(data, u)
	}
	return data
}

func assertInfo(t *testing.T, info *ImageInfo, err error, format string, w, h int) {
	t.Helper()
	if err != nil {
		t.Fatalf("SniffDimensions: %v", err)
	}
	if info == nil {
		t.Fatal("SniffDimensions returned nil info")
	}
	if info.Format != format || info.Width != w || info.Height != h {
		t.Errorf("got %s %dx%d, want %s %dx%d",
			info.Format, info.Width, info.Height, format, w, h)
	}
}

// --- Raster formats ---

func TestSniffDimensions_PNG(t *testing.T) {
	info, err := SniffDimensions(pngFixture(640, 480))
	assertInfo(t, info, err, "png", 640, 480)
}

func TestSniffDimensions_PNG_Truncated(t *testing.T) {
	data := pngFixture(640, 480)[:12]
	if _, err := SniffDimensions(data); !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("err = %v, want ErrTruncatedHeader", err)
	}
}

func TestSniffDimensions_JPEG_Baseline(t *testing.T) {
	info, err := SniffDimensions(jpegFixture(800, 600, 0xC0))
	assertInfo(t, info, err, "jpeg", 800, 600)
}

func TestSniffDimensions_JPEG_Progressive(t *testing.T) {
	info, err := SniffDimensions(jpegFixture(1920, 1080, 0xC2))
	assertInfo(t, info, err, "jpeg", 1920, 1080)
}

func TestSniffDimensions_JPEG_EOIBeforeFrame(t *testing.T) {
	data := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	if _, err := SniffDimensions(data); !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("err = %v, want ErrTruncatedHeader", err)
	}
}

func TestSniffDimensions_JPEG_TruncatedMidSegment(t *testing.T) {
	data := jpegFixture(800, 600, 0xC0)[:10]
	if _, err := SniffDimensions(data); !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("err = %v, want ErrTruncatedHeader", err)
	}
}

func TestSniffDimensions_GIF(t *testing.T) {
	info, err := SniffDimensions(gifFixture(320, 200))
	assertInfo(t, info, err, "gif", 320, 200)
}

func TestSniffDimensions_GIF_Truncated(t *testing.T) {
	if _, err := SniffDimensions([]byte("GIF89a\x40")); !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("err = %v, want ErrTruncatedHeader", err)
	}
}

func TestSniffDimensions_WebP_VP8(t *testing.T) {
	info, err := SniffDimensions(webpVP8Fixture(550, 368))
	assertInfo(t, info, err, "webp", 550, 368)
}

func TestSniffDimensions_WebP_VP8L(t *testing.T) {
	info, err := SniffDimensions(webpVP8LFixture(1024, 768))
	assertInfo(t, info, err, "webp", 1024, 768)
}

func TestSniffDimensions_WebP_VP8X(t *testing.T) {
	info, err := SniffDimensions(webpVP8XFixture(4000, 3000))
	assertInfo(t, info, err, "webp", 4000, 3000)
}

func TestSniffDimensions_WebP_BadSyncCode(t *testing.T) {
	data := webpVP8Fixture(550, 368)
	data[24] = 0x00
	if _, err := SniffDimensions(data); !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("err = %v, want ErrTruncatedHeader", err)
	}
}

func TestSniffDimensions_BMP_InfoHeader(t *testing.T) {
	info, err := SniffDimensions(bmpFixture(1280, 720))
	assertInfo(t, info, err, "bmp", 1280, 720)
}

func TestSniffDimensions_BMP_TopDown(t *testing.T) {
	// Negative height marks top-down row order, not a negative size.
	info, err := SniffDimensions(bmpFixture(1280, -720))
	assertInfo(t, info, err, "bmp", 1280, 720)
}

func TestSniffDimensions_BMP_CoreHeader(t *testing.T) {
	info, err := SniffDimensions(bmpCoreFixture(100, 50))
	assertInfo(t, info, err, "bmp", 100, 50)
}

func TestSniffDimensions_Unrecognized(t *testing.T) {
	info, err := SniffDimensions([]byte("not an image at all"))
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if info != nil {
		t.Errorf("info = %+v, want nil for unrecognized data", info)
	}
}

// --- SVG ---

func TestSniffDimensions_SVG_Attributes(t *testing.T) {
	data := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="300" height="150"></svg>`)
	info, err := SniffDimensions(data)
	assertInfo(t, info, err, "svg", 300, 150)
}

func TestSniffDimensions_SVG_Units(t *testing.T) {
	data := []byte(`<svg width="2in" height="72pt"></svg>`)
	info, err := SniffDimensions(data)
	assertInfo(t, info, err, "svg", 192, 96)
}

func TestSniffDimensions_SVG_StyleAttribute(t *testing.T) {
	data := []byte(`<svg style="border: none; width: 400px; height: 200px"></svg>`)
	info, err := SniffDimensions(data)
	assertInfo(t, info, err, "svg", 400, 200)
}

func TestSniffDimensions_SVG_ViewBoxFallback(t *testing.T) {
	data := []byte(`<svg viewBox="0 0 800 600"></svg>`)
	info, err := SniffDimensions(data)
	assertInfo(t, info, err, "svg", 800, 600)
}

func TestSniffDimensions_SVG_PercentFallsBackToViewBox(t *testing.T) {
	// Percent sizes have no absolute pixel value; the viewBox decides.
	data := []byte(`<svg width="100%" height="100%" viewBox="0 0 640 480"></svg>`)
	info, err := SniffDimensions(data)
	assertInfo(t, info, err, "svg", 640, 480)
}

func TestSniffDimensions_SVG_NoStatedSize(t *testing.T) {
	info, err := SniffDimensions([]byte(`<svg xmlns="http://www.w3.org/2000/svg"><rect/></svg>`))
	assertInfo(t, info, err, "svg", 0, 0)
}

func TestSniffDimensions_SVG_PrologAndComments(t *testing.T) {
	data := []byte("<?xml version=\"1.0\"?>\n" +
		"<!-- exported chart -->\n" +
		"<!DOCTYPE svg [ <!ENTITY x \"y\"> ]>\n" +
		"<svg width='120' height='60'/>")
	info, err := SniffDimensions(data)
	assertInfo(t, info, err, "svg", 120, 60)
}

func TestSniffDimensions_SVG_UTF16(t *testing.T) {
	data := utf16LEFixture(`<svg width="64" height="32"></svg>`)
	info, err := SniffDimensions(data)
	assertInfo(t, info, err, "svg", 64, 32)
}

func TestSniffDimensions_SVG_UnterminatedTag(t *testing.T) {
	if _, err := SniffDimensions([]byte(`<svg width="300"`)); !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("err = %v, want ErrTruncatedHeader", err)
	}
}

func TestSniffDimensions_SVG_NonSVGRoot(t *testing.T) {
	info, err := SniffDimensions([]byte(`<html><body></body></html>`))
	if err != nil || info != nil {
		t.Fatalf("got (%+v, %v), want (nil, nil) for non-SVG markup", info, err)
	}
}

// --- Guard policy ---

func TestHeaderGuard_Check_DimensionLimit(t *testing.T) {
	var g HeaderGuard
	info, err := g.Check(pngFixture(10001, 10))
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("err = %v, want ErrImageTooLarge", err)
	}
	if info == nil || info.Width != 10001 {
		t.Errorf("info = %+v, want sniffed dimensions alongside the error", info)
	}
}

func TestHeaderGuard_Check_TotalPixelLimit(t *testing.T) {
	// Each dimension is under the per-dimension cap but the product is not.
	var g HeaderGuard
	if _, err := g.Check(pngFixture(8000, 8000)); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("err = %v, want ErrImageTooLarge", err)
	}
}

func TestHeaderGuard_Check_AllowsWithinLimits(t *testing.T) {
	var g HeaderGuard
	info, err := g.Check(pngFixture(9999, 5000))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if info == nil {
		t.Fatal("Check returned nil info for recognized format")
	}
}

func TestHeaderGuard_Check_CustomLimits(t *testing.T) {
	g := HeaderGuard{MaxDimension: 100, MaxPixels: 5000}
	if _, err := g.Check(pngFixture(101, 10)); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("dimension: err = %v, want ErrImageTooLarge", err)
	}
	if _, err := g.Check(pngFixture(80, 80)); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("pixels: err = %v, want ErrImageTooLarge", err)
	}
	if _, err := g.Check(pngFixture(50, 50)); err != nil {
		t.Fatalf("within limits: %v", err)
	}
}

func TestHeaderGuard_Check_UnrecognizedAllowed(t *testing.T) {
	var g HeaderGuard
	info, err := g.Check([]byte("opaque bytes"))
	if err != nil || info != nil {
		t.Fatalf("got (%+v, %v), want (nil, nil)", info, err)
	}
}

func TestHeaderGuard_Check_TruncatedPropagates(t *testing.T) {
	var g HeaderGuard
	if _, err := g.Check(pngFixture(10, 10)[:12]); !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("err = %v, want ErrTruncatedHeader", err)
	}
}

func BenchmarkSniffDimensions_PNG(b *testing.B) {
	data := pngFixture(1920, 1080)
	for i := 0; i < b.N; i++ {
		if _, err := SniffDimensions(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSniffDimensions_JPEG(b *testing.B) {
	data := jpegFixture(1920, 1080, 0xC0)
	for i := 0; i < b.N; i++ {
		if _, err := SniffDimensions(data); err != nil {
			b.Fatal(err)
		}
	}
}
