// handlers/staking_routes.go
package handlers

import (
	"context"
	"math/big"
	"strings"

	"proof-badge-system/chain"
	"proof-badge-system/middleware"
	"proof-badge-system/services"
	"proof-badge-system/staking"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
)

// WalletResolver finds the wallet bound to a user id.
type WalletResolver interface {
	Resolve(ctx context.Context, userID string) (string, bool, error)
}

type stakingRequest struct {
	TokenID  string `json:"token_id"`
	Tier     uint8  `json:"tier"`
	SignedTx string `json:"signed_tx"`
}

func SetupStakingRoutes(app *fiber.App, svc *services.StakingService, wallets WalletResolver) {
	secured := app.Group("/staking", middleware.UserContextMiddleware())

	// callerWallet prefers the stored profile wallet over the gateway header.
	callerWallet := func(c *fiber.Ctx) (string, error) {
		wallet, found, err := wallets.Resolve(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return "", err
		}
		if found {
			return wallet, nil
		}
		if w := middleware.Wallet(c); chain.IsAddress(w) {
			return w, nil
		}
		return "", services.ErrWalletNotFound
	}

	secured.Get("/rates", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"symbol":   svc.Symbol,
			"decimals": svc.Ledger.Rates().Decimals(),
			"tiers":    svc.Rates(),
		})
	})

	secured.Get("/position", func(c *fiber.Ctx) error {
		wallet, err := callerWallet(c)
		if err != nil {
			return respondError(c, err)
		}
		view, err := svc.GetPosition(c.UserContext(), common.HexToAddress(wallet))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(view)
	})

	secured.Get("/position/:owner", func(c *fiber.Ctx) error {
		owner := c.Params("owner")
		if !chain.IsAddress(owner) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "owner must be a 0x address",
			})
		}
		if c.QueryBool("refresh") {
			if err := svc.Refresh(c.UserContext(), common.HexToAddress(owner)); err != nil {
				return respondError(c, err)
			}
		}
		view, err := svc.GetPosition(c.UserContext(), common.HexToAddress(owner))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(view)
	})

	// parse reads the body, builds the relaying signer and checks it belongs to the caller.
	parse := func(c *fiber.Ctx, needToken bool) (*stakingRequest, chain.Signer, *big.Int, error) {
		var req stakingRequest
		if err := c.BodyParser(&req); err != nil {
			return nil, nil, nil, services.ErrInvalidInput
		}
		var tokenID *big.Int
		if needToken {
			id, ok := new(big.Int).SetString(strings.TrimSpace(req.TokenID), 10)
			if !ok || id.Sign() <= 0 {
				return nil, nil, nil, services.ErrInvalidInput
			}
			tokenID = id
		}
		signer, err := svc.Signer(req.SignedTx)
		if err != nil {
			return nil, nil, nil, err
		}
		wallet, err := callerWallet(c)
		if err != nil {
			return nil, nil, nil, err
		}
		if common.HexToAddress(wallet) != signer.Address() {
			return nil, nil, nil, chain.ErrSignerMismatch
		}
		return &req, signer, tokenID, nil
	}

	secured.Post("/stake", func(c *fiber.Ctx) error {
		req, signer, tokenID, err := parse(c, true)
		if err != nil {
			return respondError(c, err)
		}
		res, err := svc.Stake(c.UserContext(), signer, tokenID, staking.Tier(req.Tier))
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	secured.Post("/unstake", func(c *fiber.Ctx) error {
		_, signer, tokenID, err := parse(c, true)
		if err != nil {
			return respondError(c, err)
		}
		res, err := svc.Unstake(c.UserContext(), signer, tokenID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	secured.Post("/claim", func(c *fiber.Ctx) error {
		_, signer, tokenID, err := parse(c, true)
		if err != nil {
			return respondError(c, err)
		}
		res, err := svc.Claim(c.UserContext(), signer, tokenID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	secured.Post("/claim-all", func(c *fiber.Ctx) error {
		_, signer, _, err := parse(c, false)
		if err != nil {
			return respondError(c, err)
		}
		res, err := svc.ClaimAll(c.UserContext(), signer)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})
}
