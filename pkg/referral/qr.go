package referral

import (
	"context"
	"errors"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// ShareLink returns the share URL for userID's active code.
func (l *Ledger) ShareLink(ctx context.Context, userID string) (string, error) {
	c, err := l.store.ActiveCode(ctx, userID)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(l.cfg.ShareURL, "{code}", c.Code), nil
}

// ShareQR renders the share link as a PNG of size pixels; a non-positive
// size uses the configured default.
func (l *Ledger) ShareQR(ctx context.Context, userID string, size int) ([]byte, error) {
	link, err := l.ShareLink(ctx, userID)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = l.cfg.QRSize
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Join(ErrQRGeneration, err)
	}
	return png, nil
}
