package tickets

import (
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

// Encoder turns a secure token into a scannable image. A scanner reading the
// image recovers the token verbatim.
type Encoder func(token string) ([]byte, error)

func QRCode(token string) ([]byte, error) {
	return qrcode.Encode(token, qrcode.Medium, qrSize)
}
