package overgrid

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/webp"
)

// DefaultDecodeTimeout bounds the fallback decode path. On timeout the
// primary path's error is returned, not a timeout error, so callers can
// pattern-match on the original failure kind.
const DefaultDecodeTimeout = 5 * time.Second

// A DecodeError wraps the failure of the decode primitive for one image.
// Use errors.As to recover it and Unwrap to reach the decoder's error.
type DecodeError struct {
	ID  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("overgrid: decode image %q: %v", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DefaultDecode is the decode primitive used when CacheConfig.Decode is nil.
var DefaultDecode = NewDecoder(DefaultDecodeTimeout)

// NewDecoder returns a DecodeFunc that decodes via content sniffing (the
// registered png/jpeg/gif/webp/bmp decoders), falling back to the format the
// entry's declared mime type names when sniffing fails. Payloads sometimes
// carry a wrong extension-derived mime type or a slightly damaged magic
// number; the declared-format retry recovers the former. The fallback is
// bounded by fallbackTimeout, and its failure (or timeout) surfaces the
// primary path's error.
func NewDecoder(fallbackTimeout time.Duration) DecodeFunc {
	if fallbackTimeout <= 0 {
		fallbackTimeout = DefaultDecodeTimeout
	}
	return func(ctx context.Context, entry ImageEntry) (Bitmap, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src, _, primaryErr := image.Decode(bytes.NewReader(entry.Bytes))
		if primaryErr == nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return uploadBitmap(src), nil
		}

		fbCtx, cancel := context.WithTimeout(ctx, fallbackTimeout)
		defer cancel()

		type result struct {
			img image.Image
			err error
		}
		ch := make(chan result, 1)
		go func() {
			img, err := decodeDeclared(entry.MimeType, entry.Bytes)
			ch <- result{img, err}
		}()

		select {
		case <-fbCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err // caller cancellation, not a decode failure
			}
			return nil, &DecodeError{ID: entry.ID, Err: primaryErr}
		case r := <-ch:
			if r.err != nil {
				return nil, &DecodeError{ID: entry.ID, Err: primaryErr}
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return uploadBitmap(r.img), nil
		}
	}
}

// decodeDeclared decodes data with the decoder named by the declared mime
// type, ignoring the content's magic bytes.
func decodeDeclared(mimeType string, data []byte) (image.Image, error) {
	r := bytes.NewReader(data)
	switch mimeType {
	case "image/png":
		return png.Decode(r)
	case "image/jpeg", "image/jpg":
		return jpeg.Decode(r)
	case "image/gif":
		return gif.Decode(r)
	case "image/webp":
		return webp.Decode(r)
	case "image/bmp", "image/x-ms-bmp":
		return bmp.Decode(r)
	default:
		img, _, err := image.Decode(r)
		return img, err
	}
}
