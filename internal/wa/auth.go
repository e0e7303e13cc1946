package wa

import (
	"context"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"
)

// QR channel item events.
const (
	qrEventCode    = "code"
	qrEventSuccess = "success"
	qrEventTimeout = "timeout"
)

// PreparePairing subscribes to pairing codes when the device has no
// credentials. It must run before the first Connect. Codes are delivered as
// PairingEvents on the adapter's stream.
func (a *Adapter) PreparePairing(ctx context.Context) error {
	if a.IsLoggedIn() {
		return nil
	}
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}
	go a.watchPairing(ctx, qrChan)
	return nil
}

func (a *Adapter) watchPairing(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) {
	phoneRequested := false
	for item := range qrChan {
		switch item.Event {
		case qrEventCode:
			a.push(PairingEvent{Code: item.Code})
			// A phone code can only be requested once the websocket is up,
			// which the first QR code proves.
			if a.opts.PairPhone != "" && !phoneRequested {
				phoneRequested = true
				a.requestPhoneCode(ctx)
			}
		case qrEventSuccess:
			a.logger.Info("pairing succeeded")
			return
		case qrEventTimeout:
			a.logger.Warn("pairing timed out")
			return
		default:
			if item.Error != nil {
				a.logger.Error("pairing failed", zap.String("event", item.Event), zap.Error(item.Error))
				return
			}
		}
	}
}

func (a *Adapter) requestPhoneCode(ctx context.Context) {
	code, err := a.client.PairPhone(ctx, a.opts.PairPhone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		a.logger.Error("phone pairing request failed", zap.Error(err))
		return
	}
	a.push(PairingEvent{Code: code, Phone: true})
}

// RenderQR renders a pairing code as a terminal QR code.
func RenderQR(code string) (string, error) {
	qr, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("encode QR: %w", err)
	}
	return qr.ToSmallString(false), nil
}
