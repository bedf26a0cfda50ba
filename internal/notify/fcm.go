package notify

import (
	"context"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/messaging"

	"ridedispatch/internal/modules/order"
)

// fcmBatchLimit is the multicast token limit of the FCM API.
const fcmBatchLimit = 500

type multicastSender interface {
	SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMNotifier pushes a "new_order" data message to every ranked candidate
// that has a device token.
type FCMNotifier struct {
	client multicastSender
}

func NewFCMNotifier(client *messaging.Client) *FCMNotifier {
	return &FCMNotifier{client: client}
}

func (f *FCMNotifier) CandidatesRanked(ctx context.Context, o *order.Order, candidates []order.Candidate) error {
	var tokens []string
	for _, c := range candidates {
		if c.DeviceToken != "" {
			tokens = append(tokens, c.DeviceToken)
		}
	}
	if len(tokens) == 0 {
		return nil
	}
	data := map[string]string{
		"type":        "new_order",
		"orderId":     string(o.ID),
		"service":     string(o.Service),
		"vehicleType": string(o.VehicleType),
		"candidates":  strconv.Itoa(len(candidates)),
	}

	failed := 0
	for start := 0; start < len(tokens); start += fcmBatchLimit {
		end := start + fcmBatchLimit
		if end > len(tokens) {
			end = len(tokens)
		}
		resp, err := f.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:  tokens[start:end],
			Data:    data,
			Android: &messaging.AndroidConfig{Priority: "high"},
		})
		if err != nil {
			return fmt.Errorf("fcm multicast: %w", err)
		}
		failed += resp.FailureCount
	}
	if failed > 0 {
		return fmt.Errorf("fcm: %d of %d pushes failed", failed, len(tokens))
	}
	return nil
}
