// README: Firebase Cloud Messaging notifier; one topic per restaurant kitchen.
package notify

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
)

type FCM struct {
	client *messaging.Client
}

func NewFCM(client *messaging.Client) *FCM {
	return &FCM{client: client}
}

// KitchenTopic is the FCM topic devices of a restaurant subscribe to.
func KitchenTopic(tenantID string) string {
	return "kitchen_" + tenantID
}

func (f *FCM) Notify(ctx context.Context, n Notification) error {
	msg := &messaging.Message{
		Topic: KitchenTopic(string(n.TenantID)),
		Data: map[string]string{
			"type":         string(n.Kind),
			"order_id":     string(n.OrderID),
			"order_number": n.OrderNumber,
			"status":       n.Status,
		},
		Notification: &messaging.Notification{
			Title: n.Title(),
		},
		Android: &messaging.AndroidConfig{
			Priority: priorityFor(n.Kind),
		},
	}
	if _, err := f.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending FCM %s for order %s: %w", n.Kind, n.OrderID, err)
	}
	return nil
}

func priorityFor(k Kind) string {
	if k == KindUpdate {
		return "normal"
	}
	return "high"
}
