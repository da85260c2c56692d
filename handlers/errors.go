package handlers

import (
	"errors"
	"log"

	"proof-badge-system/chain"
	"proof-badge-system/services"
	"proof-badge-system/staking"

	"github.com/gofiber/fiber/v2"
)

// respondError maps service and chain errors to HTTP statuses.
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	body := fiber.Map{"error": err.Error()}

	var pending *chain.PendingTxError
	switch {
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrWalletNotFound),
		errors.Is(err, staking.ErrInvalidTier):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrAlreadyProcessed),
		errors.Is(err, staking.ErrAlreadyStaked),
		errors.Is(err, staking.ErrNotStaked):
		status = fiber.StatusConflict
	case errors.Is(err, staking.ErrNotOwner),
		errors.Is(err, chain.ErrTokenNotOwned),
		errors.Is(err, chain.ErrSignerMismatch):
		status = fiber.StatusForbidden
	case errors.As(err, &pending):
		status = fiber.StatusAccepted
		body["tx_hash"] = pending.TxHash
	case errors.Is(err, chain.ErrTxReverted):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, services.ErrChainUnavailable),
		errors.Is(err, chain.ErrNotConfigured):
		status = fiber.StatusServiceUnavailable
	}

	if status >= fiber.StatusInternalServerError {
		log.Printf("❌ [HTTP] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(body)
}
