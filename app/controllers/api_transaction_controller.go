package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/coursefox/paycore/internal/pkg/reconcile"
)

var paymentEngine *reconcile.Engine

// SetupPaymentEngine installs the engine backing the read API. Called once
// from main during wiring.
func SetupPaymentEngine(engine *reconcile.Engine) {
	paymentEngine = engine
}

type createTransactionRequest struct {
	UserID        uint    `json:"user_id"`
	PlanID        uint    `json:"plan_id"`
	PaymentMethod string  `json:"payment_method"`
	ProviderTxnID *string `json:"provider_txn_id,omitempty"`
}

// HandleCreateTransaction records a new pending payment attempt.
func HandleCreateTransaction(c *fiber.Ctx) error {
	if paymentEngine == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "engine_not_ready"})
	}

	var req createTransactionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	txn, err := paymentEngine.CreateTransaction(ctx, reconcile.CreateTransactionInput{
		UserID:        req.UserID,
		PlanID:        req.PlanID,
		PaymentMethod: req.PaymentMethod,
		ProviderTxnID: req.ProviderTxnID,
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"transaction": txn})
}

type attachProviderReferenceRequest struct {
	ProviderTxnID string `json:"provider_txn_id"`
}

// HandleAttachProviderReference links the provider-side payment id to a
// pending transaction once the provider checkout exists.
func HandleAttachProviderReference(c *fiber.Ctx) error {
	if paymentEngine == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "engine_not_ready"})
	}

	var req attachProviderReferenceRequest
	if err := c.BodyParser(&req); err != nil || req.ProviderTxnID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := paymentEngine.AttachProviderReference(ctx, c.Params("publicID"), req.ProviderTxnID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		if errors.Is(err, reconcile.ErrStorageConflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict"})
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleGetTransaction returns one transaction by its public id, including
// the ordered status audit trail.
func HandleGetTransaction(c *fiber.Ctx) error {
	if paymentEngine == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "engine_not_ready"})
	}

	publicID := c.Params("publicID")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	txn, err := paymentEngine.GetTransactionByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	history, err := paymentEngine.ListStatusTransitions(ctx, txn.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "history_lookup_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"transaction": txn,
		"history":     history,
	})
}

// HandleListUserSubscriptions returns all subscriptions for one user.
func HandleListUserSubscriptions(c *fiber.Ctx) error {
	if paymentEngine == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "engine_not_ready"})
	}

	userID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || userID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	subs, err := paymentEngine.ListSubscriptionsByUser(ctx, uint(userID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"subscriptions": subs})
}
