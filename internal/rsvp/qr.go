package rsvp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// QRCode is the payload for client-side check-in rendering: the raw code for
// manual entry, the JSON string encoded in the QR image, and the image itself.
type QRCode struct {
	CheckInCode string `json:"check_in_code"`
	Payload     string `json:"payload"`
	PNGBase64   string `json:"png_base64"`
}

// QRCode builds the check-in QR artifact for a registration.
func (s *Service) QRCode(ctx context.Context, id string) (*QRCode, error) {
	reg, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]string{
		"rsvp_id":       reg.ID,
		"event_id":      reg.EventID,
		"check_in_code": reg.CheckInCode,
	})
	if err != nil {
		return nil, fmt.Errorf("encode qr payload: %w", err)
	}

	png, err := qrcode.Encode(string(payload), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}

	return &QRCode{
		CheckInCode: reg.CheckInCode,
		Payload:     string(payload),
		PNGBase64:   base64.StdEncoding.EncodeToString(png),
	}, nil
}
