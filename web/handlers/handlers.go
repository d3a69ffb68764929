package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"

	"github.com/lotline/lotline/lotline/engine"
	"github.com/lotline/lotline/lotline/query"
	"github.com/lotline/lotline/web/models"
	"github.com/lotline/lotline/web/utils"
)

// WebApp bundles everything the HTTP handlers need.
type WebApp struct {
	Store     engine.Store
	Bids      *engine.BidProcessor
	Lifecycle *engine.LifecycleScheduler
	Settler   *engine.SettlementCoordinator
	Watches   *engine.WatchTracker
	Query     *query.Service
	Fanout    *engine.Fanout
	Version   string
	Commit    string
}

func HealthCheck(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return utils.SendSuccess(c, fiber.Map{
			"status":  "healthy",
			"version": webApp.Version,
			"commit":  webApp.Commit,
		}, "Health check successful")
	}
}

func AuctionsCreate(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.CreateAuctionRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "Invalid request body", nil)
		}

		sellerID, err := uuid.Parse(req.SellerID)
		if err != nil {
			return utils.SendBadRequest(c, "Invalid seller id", nil)
		}
		startingPrice, err := decimal.NewFromString(req.StartingPrice)
		if err != nil {
			return utils.SendBadRequest(c, "Invalid starting price", nil)
		}
		reservePrice := decimal.Zero
		if req.ReservePrice != "" {
			if reservePrice, err = decimal.NewFromString(req.ReservePrice); err != nil {
				return utils.SendBadRequest(c, "Invalid reserve price", nil)
			}
		}

		auction, err := engine.OpenAuction(engine.CreateAuctionParams{
			SellerID:      sellerID,
			Title:         req.Title,
			StartingPrice: startingPrice,
			ReservePrice:  reservePrice,
			Duration:      time.Duration(req.DurationSecs) * time.Second,
		}, time.Now())
		if err != nil {
			return utils.SendUnprocessableEntity(c, err.Error(), nil)
		}

		if err := webApp.Store.Create(c.Context(), auction); err != nil {
			slog.Error("Failed to create auction", slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to create auction")
		}

		slog.Info("Auction created",
			slog.String("auction_id", auction.ID.String()),
			slog.String("seller_id", sellerID.String()),
			slog.Time("end_time", auction.EndTime))

		return utils.SendCreated(c, models.NewAuctionView(auction), "Auction created")
	}
}

func AuctionsList(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		auctions, err := webApp.Query.ListActive(c.Context())
		if err != nil {
			slog.Error("Failed to list auctions", slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to list auctions")
		}
		return utils.SendSuccess(c, models.NewAuctionViews(auctions), "")
	}
}

func AuctionsDetail(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return utils.SendBadRequest(c, "Invalid auction id", nil)
		}

		auction, err := webApp.Query.GetAuction(c.Context(), id)
		if err != nil {
			if errors.Is(err, engine.ErrAuctionNotFound) {
				return utils.SendNotFound(c, "Auction not found")
			}
			slog.Error("Failed to load auction", slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to load auction")
		}
		return utils.SendSuccess(c, models.NewAuctionView(auction), "")
	}
}

func AuctionBids(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return utils.SendBadRequest(c, "Invalid auction id", nil)
		}

		bids, err := webApp.Query.BidHistory(c.Context(), id)
		if err != nil {
			if errors.Is(err, engine.ErrAuctionNotFound) {
				return utils.SendNotFound(c, "Auction not found")
			}
			slog.Error("Failed to load bid history", slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to load bid history")
		}
		return utils.SendSuccess(c, models.NewBidViews(bids), "")
	}
}

func BidsCreate(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return utils.SendBadRequest(c, "Invalid auction id", nil)
		}

		var req models.PlaceBidRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "Invalid request body", nil)
		}
		bidderID, err := uuid.Parse(req.BidderID)
		if err != nil {
			return utils.SendBadRequest(c, "Invalid bidder id", nil)
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			return utils.SendBadRequest(c, "Invalid bid amount", nil)
		}

		result, err := webApp.Bids.PlaceBid(c.Context(), id, bidderID, amount, time.Now())
		if err != nil {
			if errors.Is(err, engine.ErrAuctionNotFound) {
				return utils.SendNotFound(c, "Auction not found")
			}
			slog.Error("Failed to place bid", slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to place bid")
		}
		webApp.Query.Invalidate(id)

		view := &models.BidResultView{
			Outcome: string(result.Outcome),
			Reason:  string(result.Reason),
			Bid:     models.NewBidView(result.Bid),
			Auction: models.NewAuctionView(result.Auction),
		}

		switch result.Outcome {
		case engine.BidAccepted:
			return utils.SendSuccess(c, view, "Bid accepted")
		case engine.BidConflict:
			// Conflict responses carry the fresh snapshot so clients can
			// reconcile before resubmitting.
			resp := models.NewErrorResponse("CONFLICT",
				"Bid lost the write race, retry with a fresh snapshot", nil)
			resp.Data = view
			return utils.SendJSON(c, fiber.StatusConflict, resp)
		default:
			// Rejections still return the result view; clients read the
			// reason and the fresh snapshot to reconcile.
			return utils.SendSuccess(c, view, "Bid rejected")
		}
	}
}

func SellNow(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return utils.SendBadRequest(c, "Invalid auction id", nil)
		}
		var req models.SellerActionRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "Invalid request body", nil)
		}
		sellerID, err := uuid.Parse(req.SellerID)
		if err != nil {
			return utils.SendBadRequest(c, "Invalid seller id", nil)
		}

		auction, err := webApp.Lifecycle.SellNow(c.Context(), id, sellerID, time.Now())
		if err != nil {
			return sendLifecycleError(c, err, "Failed to close auction")
		}
		webApp.Query.Invalidate(id)
		return utils.SendSuccess(c, models.NewAuctionView(auction), "Auction closed")
	}
}

func Cancel(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return utils.SendBadRequest(c, "Invalid auction id", nil)
		}
		var req models.SellerActionRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "Invalid request body", nil)
		}
		sellerID, err := uuid.Parse(req.SellerID)
		if err != nil {
			return utils.SendBadRequest(c, "Invalid seller id", nil)
		}

		auction, err := webApp.Lifecycle.Cancel(c.Context(), id, sellerID)
		if err != nil {
			return sendLifecycleError(c, err, "Failed to cancel auction")
		}
		webApp.Query.Invalidate(id)
		return utils.SendSuccess(c, models.NewAuctionView(auction), "Auction cancelled")
	}
}

func sendLifecycleError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, engine.ErrAuctionNotFound):
		return utils.SendNotFound(c, "Auction not found")
	case errors.Is(err, engine.ErrNotSeller):
		return utils.SendError(c, fiber.StatusForbidden, "FORBIDDEN", "Only the seller may do this", nil)
	case errors.Is(err, engine.ErrNotActive):
		return utils.SendConflict(c, "Auction is no longer active", nil)
	case errors.Is(err, engine.ErrHasBids):
		return utils.SendConflict(c, "Auction already has bids", nil)
	case errors.Is(err, engine.ErrConflict):
		return utils.SendConflict(c, "Lost the write race, retry", nil)
	default:
		slog.Error(fallback, slog.Any("error", err))
		return utils.SendInternalServerError(c, fallback)
	}
}

func WatchToggle(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return utils.SendBadRequest(c, "Invalid auction id", nil)
		}
		var req models.WatchToggleRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "Invalid request body", nil)
		}
		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			return utils.SendBadRequest(c, "Invalid user id", nil)
		}

		watching, err := webApp.Watches.Toggle(c.Context(), id, userID)
		if err != nil {
			if errors.Is(err, engine.ErrAuctionNotFound) {
				return utils.SendNotFound(c, "Auction not found")
			}
			slog.Error("Failed to toggle watch", slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to toggle watch")
		}

		watchers, err := webApp.Watches.Count(c.Context(), id)
		if err != nil {
			slog.Warn("Failed to count watchers", slog.Any("error", err))
		}

		return utils.SendSuccess(c, &models.WatchView{
			AuctionID: id.String(),
			UserID:    userID.String(),
			Watching:  watching,
			Watchers:  watchers,
		}, "")
	}
}

func WatchedAuctions(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return utils.SendBadRequest(c, "Invalid user id", nil)
		}

		auctions, err := webApp.Query.WatchedAuctions(c.Context(), userID)
		if err != nil {
			slog.Error("Failed to list watched auctions", slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to list watched auctions")
		}
		return utils.SendSuccess(c, models.NewAuctionViews(auctions), "")
	}
}

const streamHeartbeat = 15 * time.Second

// EventsStream serves the per-auction delta feed over server-sent events.
// A closed stream means the subscriber fell behind or the hub shut down;
// clients resubscribe and re-fetch a snapshot.
func EventsStream(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return utils.SendBadRequest(c, "Invalid auction id", nil)
		}

		if _, err := webApp.Query.GetAuction(c.Context(), id); err != nil {
			if errors.Is(err, engine.ErrAuctionNotFound) {
				return utils.SendNotFound(c, "Auction not found")
			}
			slog.Error("Failed to open event stream", slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to open event stream")
		}

		sub := webApp.Fanout.Subscribe(id)

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer sub.Close()

			heartbeat := time.NewTicker(streamHeartbeat)
			defer heartbeat.Stop()

			for {
				select {
				case delta, ok := <-sub.C:
					if !ok {
						// Evicted by the hub.
						return
					}
					payload, err := json.Marshal(delta)
					if err != nil {
						continue
					}
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", delta.Kind, payload)
					if err := w.Flush(); err != nil {
						return
					}
				case <-heartbeat.C:
					fmt.Fprint(w, ": ping\n\n")
					if err := w.Flush(); err != nil {
						return
					}
				}
			}
		}))

		return nil
	}
}

// PaymentWebhook records checkout completion posted back by the payment
// provider.
func PaymentWebhook(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.PaymentWebhookRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "Invalid request body", nil)
		}
		settlementID, err := uuid.Parse(req.SettlementID)
		if err != nil {
			return utils.SendBadRequest(c, "Invalid settlement id", nil)
		}
		if req.Status != "paid" && req.Status != "complete" {
			slog.Info("Ignoring payment webhook",
				slog.String("settlement_id", req.SettlementID),
				slog.String("status", req.Status))
			return utils.SendSuccess(c, nil, "Ignored")
		}

		if err := webApp.Settler.MarkPaid(c.Context(), settlementID); err != nil {
			slog.Error("Failed to mark settlement paid",
				slog.String("settlement_id", req.SettlementID),
				slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to record payment")
		}

		slog.Info("Payment recorded",
			slog.String("settlement_id", req.SettlementID),
			slog.String("checkout_id", req.CheckoutID))
		return utils.SendSuccess(c, nil, "Payment recorded")
	}
}
