package overgrid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Default "decompression bomb" limits. These are tuned defensive limits, not
// protocol constants; override per HeaderGuard.
const (
	DefaultMaxDimension = 10_000
	DefaultMaxPixels    = 50_000_000
)

// ErrImageTooLarge reports that an image's advertised dimensions exceed the
// configured safety limits. Never retried automatically.
var ErrImageTooLarge = errors.New("overgrid: image dimensions exceed safety limits")

// ErrTruncatedHeader reports that a payload matched a format's magic bytes
// but ended before the full dimensions could be read.
var ErrTruncatedHeader = errors.New("overgrid: truncated image header")

// ImageInfo is the result of header sniffing: the recognized format and its
// advertised (not verified) pixel dimensions.
type ImageInfo struct {
	Format string // "png", "jpeg", "gif", "webp", "bmp", "svg"
	Width  int
	Height int
}

// HeaderGuard rejects images whose advertised pixel dimensions are
// implausibly large, before any decode is attempted. The zero value uses
// DefaultMaxDimension and DefaultMaxPixels.
//
// Sniffing is synchronous and allocates only in proportion to the actual
// byte length, never to the advertised (attacker-controlled) dimensions.
type HeaderGuard struct {
	MaxDimension int
	MaxPixels    int64
}

// Check sniffs data and applies the size policy. An unrecognized format
// returns (nil, nil): the guard allows it and the downstream decoder is the
// final authority. A recognized format returns its info, or an error wrapping
// ErrTruncatedHeader or ErrImageTooLarge.
func (g HeaderGuard) Check(data []byte) (*ImageInfo, error) {
	info, err := SniffDimensions(data)
	if err != nil || info == nil {
		return nil, err
	}

	maxDim := g.MaxDimension
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	maxPixels := g.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	if info.Width > maxDim || info.Height > maxDim ||
		int64(info.Width)*int64(info.Height) > maxPixels {
		return info, fmt.Errorf("%w: %s %dx%d (limits %dpx/dim, %dpx total)",
			ErrImageTooLarge, info.Format, info.Width, info.Height, maxDim, maxPixels)
	}
	return info, nil
}

// SniffDimensions reads the advertised dimensions from an image header.
// Returns (nil, nil) if no known format's magic bytes match.
func SniffDimensions(data []byte) (*ImageInfo, error) {
	switch {
	case hasPrefix(data, "\x89PNG\r\n\x1a\n"):
		return sniffPNG(data)
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return sniffJPEG(data)
	case hasPrefix(data, "GIF87a") || hasPrefix(data, "GIF89a"):
		return sniffGIF(data)
	case hasPrefix(data, "RIFF") && len(data) >= 12 && string(data[8:12]) == "WEBP":
		return sniffWebP(data)
	case hasPrefix(data, "BM"):
		return sniffBMP(data)
	default:
		if looksLikeSVG(data) {
			return sniffSVG(data)
		}
		return nil, nil
	}
}

func hasPrefix(data []byte, magic string) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}

func truncated(format string) error {
	return fmt.Errorf("%w: %s", ErrTruncatedHeader, format)
}

// --- PNG ---

// sniffPNG reads the IHDR chunk, which PNG requires to be first:
// 8-byte signature, 4-byte length, "IHDR", then big-endian width and height.
func sniffPNG(data []byte) (*ImageInfo, error) {
	if len(data) < 24 || string(data[12:16]) != "IHDR" {
		return nil, truncated("png")
	}
	return &ImageInfo{
		Format: "png",
		Width:  int(binary.BigEndian.Uint32(data[16:20])),
		Height: int(binary.BigEndian.Uint32(data[20:24])),
	}, nil
}

// --- JPEG ---

// sniffJPEG scans marker segments until a start-of-frame marker, skipping
// each segment by its declared length. Restart markers and other standalone
// markers carry no length and are skipped individually.
func sniffJPEG(data []byte) (*ImageInfo, error) {
	i := 2 // past SOI
	for {
		// Find the next marker, tolerating fill bytes (0xFF padding).
		for i < len(data) && data[i] != 0xFF {
			i++
		}
		for i < len(data) && data[i] == 0xFF {
			i++
		}
		if i >= len(data) {
			return nil, truncated("jpeg")
		}
		marker := data[i]
		i++

		switch {
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			// TEM and RSTn are standalone, no length field.
			continue
		case marker == 0xD9:
			// EOI before any SOF: no frame header present.
			return nil, truncated("jpeg")
		case isSOFMarker(marker):
			// [len16][precision][height16][width16]
			if i+7 > len(data) {
				return nil, truncated("jpeg")
			}
			return &ImageInfo{
				Format: "jpeg",
				Height: int(binary.BigEndian.Uint16(data[i+3 : i+5])),
				Width:  int(binary.BigEndian.Uint16(data[i+5 : i+7])),
			}, nil
		default:
			if i+2 > len(data) {
				return nil, truncated("jpeg")
			}
			segLen := int(binary.BigEndian.Uint16(data[i : i+2]))
			if segLen < 2 {
				return nil, truncated("jpeg")
			}
			i += segLen
		}
	}
}

// isSOFMarker reports whether marker is a start-of-frame. C4 (DHT), C8 (JPG
// extension), and CC (DAC) share the SOF range but are not frames.
func isSOFMarker(marker byte) bool {
	return marker >= 0xC0 && marker <= 0xCF &&
		marker != 0xC4 && marker != 0xC8 && marker != 0xCC
}

// --- GIF ---

// sniffGIF reads the logical screen descriptor that directly follows the
// 6-byte signature: little-endian width then height.
func sniffGIF(data []byte) (*ImageInfo, error) {
	if len(data) < 10 {
		return nil, truncated("gif")
	}
	return &ImageInfo{
		Format: "gif",
		Width:  int(binary.LittleEndian.Uint16(data[6:8])),
		Height: int(binary.LittleEndian.Uint16(data[8:10])),
	}, nil
}

// --- WebP ---

// sniffWebP handles the three container variants, each with its own bit
// layout: VP8 (lossy frame header), VP8L (lossless packed 14-bit fields),
// and VP8X (extended header with 24-bit minus-one canvas dimensions).
func sniffWebP(data []byte) (*ImageInfo, error) {
	if len(data) < 16 {
		return nil, truncated("webp")
	}
	switch string(data[12:16]) {
	case "VP8 ":
		// 3-byte frame tag, 3-byte sync code 9D 01 2A, then two
		// little-endian uint16s whose low 14 bits are the dimensions.
		if len(data) < 30 {
			return nil, truncated("webp")
		}
		if data[23] != 0x9D || data[24] != 0x01 || data[25] != 0x2A {
			return nil, truncated("webp")
		}
		return &ImageInfo{
			Format: "webp",
			Width:  int(binary.LittleEndian.Uint16(data[26:28]) & 0x3FFF),
			Height: int(binary.LittleEndian.Uint16(data[28:30]) & 0x3FFF),
		}, nil
	case "VP8L":
		// Signature byte 0x2F, then 28 bits of dimensions: 14-bit
		// width-minus-one, 14-bit height-minus-one.
		if len(data) < 25 {
			return nil, truncated("webp")
		}
		if data[20] != 0x2F {
			return nil, truncated("webp")
		}
		bits := binary.LittleEndian.Uint32(data[21:25])
		return &ImageInfo{
			Format: "webp",
			Width:  int(bits&0x3FFF) + 1,
			Height: int((bits>>14)&0x3FFF) + 1,
		}, nil
	case "VP8X":
		// 4 bytes of flags/reserved, then 24-bit little-endian canvas
		// width-minus-one and height-minus-one.
		if len(data) < 30 {
			return nil, truncated("webp")
		}
		w := int(data[24]) | int(data[25])<<8 | int(data[26])<<16
		h := int(data[27]) | int(data[28])<<8 | int(data[29])<<16
		return &ImageInfo{Format: "webp", Width: w + 1, Height: h + 1}, nil
	default:
		return nil, truncated("webp")
	}
}

// --- BMP ---

// sniffBMP distinguishes the legacy 12-byte core header (16-bit unsigned
// dimensions) from the info header family (signed 32-bit; a negative height
// marks top-down row order).
func sniffBMP(data []byte) (*ImageInfo, error) {
	if len(data) < 18 {
		return nil, truncated("bmp")
	}
	dibSize := binary.LittleEndian.Uint32(data[14:18])
	if dibSize == 12 {
		if len(data) < 22 {
			return nil, truncated("bmp")
		}
		return &ImageInfo{
			Format: "bmp",
			Width:  int(binary.LittleEndian.Uint16(data[18:20])),
			Height: int(binary.LittleEndian.Uint16(data[20:22])),
		}, nil
	}
	if len(data) < 26 {
		return nil, truncated("bmp")
	}
	w := int(int32(binary.LittleEndian.Uint32(data[18:22])))
	h := int(int32(binary.LittleEndian.Uint32(data[22:26])))
	if h < 0 {
		h = -h
	}
	if w < 0 {
		w = -w
	}
	return &ImageInfo{Format: "bmp", Width: w, Height: h}, nil
}

// --- SVG ---

// looksLikeSVG reports whether data plausibly starts an SVG document. Checks
// only a bounded prefix, after BOM stripping and UTF-16 decoding if needed.
func looksLikeSVG(data []byte) bool {
	tag, ok := newSVGScanner(svgText(data, 1024)).nextTag()
	return ok && tag == "svg"
}

// svgText converts up to limit bytes of data to a string, honoring UTF-8 and
// UTF-16 (both endians) byte-order marks. limit <= 0 means the whole buffer.
func svgText(data []byte, limit int) string {
	if limit > 0 && len(data) > limit {
		data = data[:limit]
	}
	switch {
	case len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF:
		return string(data[3:])
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xFE:
		return decodeUTF16(data[2:], binary.LittleEndian)
	case len(data) >= 2 && data[0] == 0xFE && data[1] == 0xFF:
		return decodeUTF16(data[2:], binary.BigEndian)
	default:
		return string(data)
	}
}

func decodeUTF16(data []byte, order binary.ByteOrder) string {
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		units = append(units, order.Uint16(data[i:i+2]))
	}
	return string(utf16.Decode(units))
}

// sniffSVG extracts a best-effort size from the root <svg> element: width and
// height attributes first (including CSS via the style attribute), then the
// viewBox. An SVG with no stated size returns 0x0, which the guard allows.
func sniffSVG(data []byte) (*ImageInfo, error) {
	scan := newSVGScanner(svgText(data, 64*1024))
	tag, ok := scan.nextTag()
	if !ok || tag != "svg" {
		return nil, truncated("svg")
	}
	attrs, ok := scan.attributes()
	if !ok {
		return nil, truncated("svg")
	}

	w, wok := svgLength(attrs["width"])
	h, hok := svgLength(attrs["height"])
	if style := attrs["style"]; style != "" {
		if v, ok := svgLength(cssProperty(style, "width")); ok && !wok {
			w, wok = v, true
		}
		if v, ok := svgLength(cssProperty(style, "height")); ok && !hok {
			h, hok = v, true
		}
	}
	if !wok || !hok {
		if vw, vh, ok := svgViewBox(attrs["viewBox"]); ok {
			if !wok {
				w = vw
			}
			if !hok {
				h = vh
			}
		}
	}
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &ImageInfo{Format: "svg", Width: int(w + 0.5), Height: int(h + 0.5)}, nil
}

// svgScanner walks SVG text looking for the first element tag, skipping
// comments, CDATA sections, processing instructions, and the doctype.
type svgScanner struct {
	s   string
	pos int
}

func newSVGScanner(s string) *svgScanner {
	return &svgScanner{s: s}
}

// nextTag advances to the first real element and returns its local name
// (namespace prefix stripped, lower-cased). ok=false if none is found.
func (sc *svgScanner) nextTag() (string, bool) {
	for {
		lt := strings.IndexByte(sc.s[sc.pos:], '<')
		if lt < 0 {
			return "", false
		}
		sc.pos += lt
		rest := sc.s[sc.pos:]
		switch {
		case strings.HasPrefix(rest, "<!--"):
			end := strings.Index(rest, "-->")
			if end < 0 {
				return "", false
			}
			sc.pos += end + 3
		case strings.HasPrefix(rest, "<![CDATA["):
			end := strings.Index(rest, "]]>")
			if end < 0 {
				return "", false
			}
			sc.pos += end + 3
		case strings.HasPrefix(rest, "<?"):
			end := strings.Index(rest, "?>")
			if end < 0 {
				return "", false
			}
			sc.pos += end + 2
		case strings.HasPrefix(rest, "<!"):
			// DOCTYPE, possibly with an internal subset in brackets.
			end := sc.skipDoctype(rest)
			if end < 0 {
				return "", false
			}
			sc.pos += end
		default:
			// Element tag. Read the name.
			i := 1
			for i < len(rest) && !isTagNameEnd(rest[i]) {
				i++
			}
			name := strings.ToLower(rest[1:i])
			if colon := strings.IndexByte(name, ':'); colon >= 0 {
				name = name[colon+1:]
			}
			sc.pos += i
			return name, true
		}
	}
}

// skipDoctype returns the offset just past a <!...> declaration, tracking
// one level of [ ] internal subset. Returns -1 if unterminated.
func (sc *svgScanner) skipDoctype(rest string) int {
	depth := 0
	for i := 2; i < len(rest); i++ {
		switch rest[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '>':
			if depth <= 0 {
				return i + 1
			}
		}
	}
	return -1
}

func isTagNameEnd(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '>' || c == '/'
}

// attributes parses the attribute list of the tag the scanner is positioned
// after, up to the closing '>'. ok=false if the tag is unterminated.
func (sc *svgScanner) attributes() (map[string]string, bool) {
	attrs := make(map[string]string)
	s := sc.s
	i := sc.pos
	for i < len(s) {
		// Skip whitespace and the self-closing slash.
		for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r' || s[i] == '/') {
			i++
		}
		if i >= len(s) {
			return nil, false
		}
		if s[i] == '>' {
			return attrs, true
		}
		// Attribute name.
		start := i
		for i < len(s) && s[i] != '=' && s[i] != '>' && s[i] != ' ' && s[i] != '\t' && s[i] != '\n' && s[i] != '\r' {
			i++
		}
		name := strings.ToLower(s[start:i])
		// Skip whitespace around '='.
		for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
			i++
		}
		if i >= len(s) || s[i] != '=' {
			attrs[name] = "" // bare attribute
			continue
		}
		i++
		for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
			i++
		}
		if i >= len(s) {
			return nil, false
		}
		// Quoted or bare value.
		var value string
		if q := s[i]; q == '"' || q == '\'' {
			i++
			end := strings.IndexByte(s[i:], q)
			if end < 0 {
				return nil, false
			}
			value = s[i : i+end]
			i += end + 1
		} else {
			start = i
			for i < len(s) && s[i] != ' ' && s[i] != '\t' && s[i] != '\n' && s[i] != '\r' && s[i] != '>' {
				i++
			}
			value = s[start:i]
		}
		attrs[name] = value
	}
	return nil, false
}

// svgLength parses a CSS length ("120", "2.5in", "30 px") into pixels at
// 96 DPI. Percentages and font-relative units have no absolute pixel value
// and are rejected.
func svgLength(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	i := 0
	for i < len(s) && (s[i] == '+' || s[i] == '-' || s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	num, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, false
	}
	switch strings.TrimSpace(strings.ToLower(s[i:])) {
	case "", "px":
		return num, true
	case "pt":
		return num * 96.0 / 72.0, true
	case "pc":
		return num * 16, true
	case "in":
		return num * 96, true
	case "cm":
		return num * 96.0 / 2.54, true
	case "mm":
		return num * 96.0 / 25.4, true
	default:
		return 0, false
	}
}

// cssProperty extracts a property value from an inline style declaration.
func cssProperty(style, name string) string {
	for _, decl := range strings.Split(style, ";") {
		prop, value, ok := strings.Cut(decl, ":")
		if ok && strings.EqualFold(strings.TrimSpace(prop), name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// svgViewBox parses "minX minY width height" (space or comma separated).
func svgViewBox(s string) (w, h float64, ok bool) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ','
	})
	if len(fields) != 4 {
		return 0, 0, false
	}
	w, errW := strconv.ParseFloat(fields[2], 64)
	h, errH := strconv.ParseFloat(fields[3], 64)
	if errW != nil || errH != nil {
		return 0, 0, false
	}
	return w, h, true
}
