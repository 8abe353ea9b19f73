package backup

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/fahmaliyi/clockode/logging"
	"github.com/fahmaliyi/clockode/vault"
)

var ErrNoQRCode = errors.New("backup: no qr code found")

// ReadQRFile decodes the QR code in a PNG or JPEG image and returns its
// text, usually an otpauth URI shown by a provider's setup page.
func ReadQRFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &vault.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNoQRCode, path, err)
	}
	logging.Debugf("decoding %s image %s (%dx%d)", format, path, img.Bounds().Dx(), img.Bounds().Dy())

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNoQRCode, path, err)
	}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNoQRCode, path, err)
	}
	return res.GetText(), nil
}
