package qrcode

import (
	"fmt"

	goqr "github.com/skip2/go-qrcode"

	"github.com/qrmedi/qrmedi/internal/platform/apperr"
)

const (
	DefaultImageSize = 256
	MinImageSize     = 128
	MaxImageSize     = 1024
)

// Render draws payload as a PNG of size x size pixels at error-correction
// level H, so a partly damaged wristband or printout still scans.
func Render(payload string, size int) ([]byte, error) {
	if size == 0 {
		size = DefaultImageSize
	}
	if size < MinImageSize || size > MaxImageSize {
		return nil, apperr.Field("size", fmt.Sprintf("must be between %d and %d", MinImageSize, MaxImageSize))
	}
	png, err := goqr.Encode(payload, goqr.Highest, size)
	if err != nil {
		return nil, fmt.Errorf("render qr symbol: %w", err)
	}
	return png, nil
}
