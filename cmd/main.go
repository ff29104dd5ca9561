package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"deribit-client/internal/config"
	"deribit-client/internal/exchange/deribit"
	"deribit-client/internal/logger"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("config")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.App.Logger()); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	l := logger.WithComponent("main")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := deribit.NewClient(cfg.Deribit)

	book, err := client.GetOrderBook(ctx, cfg.Deribit.Instrument)
	if err != nil {
		l.WithError(err).Error("order book request failed")
	} else {
		entry := l.WithField("instrument", book.Instrument).
			WithField("bid", book.BestBid.String()).
			WithField("ask", book.BestAsk.String()).
			WithField("mark", book.MarkPrice.String()).
			WithField("bids", len(book.Bids)).
			WithField("asks", len(book.Asks))
		if book.Funding8h != nil {
			entry = entry.WithField("funding_8h", book.Funding8h.String())
		}
		entry.Info("order book")
	}

	if cfg.Deribit.ClientID == "" || cfg.Deribit.ClientSecret == "" {
		l.Warn("no credentials configured (DERIBIT_CLIENT_ID / DERIBIT_CLIENT_SECRET), skipping private calls")
		return
	}

	token, err := client.Authenticate(ctx)
	if err != nil {
		l.WithError(err).Error("authentication failed")
		cancel()
		os.Exit(1)
	}
	l.WithField("scope", token.Scope).WithField("expires_in", token.ExpiresIn).Info("authenticated")

	positions, err := client.GetPositions(ctx, cfg.Deribit.Currency)
	if err != nil {
		l.WithError(err).Error("positions request failed")
		return
	}
	if len(positions) == 0 {
		l.WithField("currency", cfg.Deribit.Currency).Info("no open positions")
	}
	for _, p := range positions {
		l.WithField("instrument", p.Instrument).
			WithField("size", p.Size.String()).
			WithField("direction", p.Direction).
			WithField("entry", p.EntryPrice.String()).
			WithField("pnl", p.UnrealizedPnL.String()).
			Info("position")
	}
}
