package services

import (
	"context"

	"github.com/slotworks/booking-engine/internal/models"
	"github.com/slotworks/booking-engine/internal/utils"
)

type clientInfoKey struct{}

// ClientInfo is the network metadata of the caller that triggered an operation
type ClientInfo struct {
	IP        string
	UserAgent string
}

// WithClientInfo attaches caller metadata to ctx. Payment audit entries
// written under ctx carry it.
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// ClientInfoFrom returns the caller metadata attached to ctx
func ClientInfoFrom(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info, ok
}

// applyClientInfo stamps the audit entry with the caller's address and device
func applyClientInfo(ctx context.Context, audit *models.PaymentAudit) {
	info, ok := ClientInfoFrom(ctx)
	if !ok {
		return
	}
	audit.SetClient(info.IP, info.UserAgent)
	if info.UserAgent == "" {
		return
	}

	device := utils.ParseUserAgent(info.UserAgent)
	if audit.Payload == nil {
		audit.Payload = models.JSONB{}
	}
	audit.Payload["client_device"] = device.DeviceType
	audit.Payload["client_browser"] = device.Browser
	if device.IsBot {
		audit.Payload["client_bot"] = true
	}
}
