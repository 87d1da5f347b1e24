package controllers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/coursefox/paycore/internal/pkg/provider"
	"github.com/coursefox/paycore/internal/pkg/reconcile"
)

var paymentIntake *reconcile.Intake

// SetupPaymentIntake installs the webhook intake the controller dispatches
// to. Called once from main during wiring.
func SetupPaymentIntake(intake *reconcile.Intake) {
	paymentIntake = intake
}

// providerWebhookBody is the raw shape of one provider push notification.
type providerWebhookBody struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
	} `json:"data"`
}

// HandleProviderWebhook accepts one provider push delivery. It answers 200 as
// soon as the delivery is durably logged; only an unverifiable signature or a
// persistence failure produce non-2xx responses, since those are the cases
// where a provider-side retry can still help.
func HandleProviderWebhook(c *fiber.Ctx) error {
	if paymentIntake == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "intake_not_ready"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)

	var body providerWebhookBody
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	eventID := firstHeaderValue(c, "X-Provider-Event-ID", "X-Provider-Delivery")
	if eventID == "" {
		eventID = body.ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	receipt, err := paymentIntake.Process(ctx, reconcile.InboundEvent{
		ProviderEventID: eventID,
		ProviderTxnID:   body.Data.PaymentID,
		EventType:       body.Type,
		ClaimedStatus:   string(provider.NormalizeStatus(body.Data.Status)),
		Payload:         rawBody,
		Signature:       strings.TrimSpace(c.Get("X-Provider-Signature")),
		SenderAddr:      c.IP(),
		SenderHeaders:   headerSummary(c, "X-Provider-Event-ID", "X-Provider-Delivery", "User-Agent"),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}

	switch receipt.Outcome {
	case reconcile.OutcomeInvalidSignature:
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	case reconcile.OutcomeMalformed:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	case reconcile.OutcomeDuplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case reconcile.OutcomeUnknownTransaction:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "outcome": receipt.Outcome})
	}
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(c.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func headerSummary(c *fiber.Ctx, keys ...string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := strings.TrimSpace(c.Get(k)); v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "; ")
}
