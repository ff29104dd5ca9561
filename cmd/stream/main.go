package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"deribit-client/internal/config"
	"deribit-client/internal/exchange/deribit"
	"deribit-client/internal/logger"
	"deribit-client/pkg/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("config")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.App.Logger()); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	l := logger.WithComponent("stream")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The private channel needs a token from the HTTPS session.
	var token string
	if cfg.Deribit.ClientID != "" {
		client := deribit.NewClient(cfg.Deribit)
		tok, err := client.Authenticate(ctx)
		if err != nil {
			l.WithError(err).Error("authentication failed, order updates disabled")
		} else {
			token = tok.AccessToken
		}
	}

	wsClient := ws.NewDeribitWSClient(ws.ConfigFrom(cfg.Stream))
	if err := wsClient.Connect(ctx, cfg.Stream.Host, cfg.Stream.Port, cfg.Stream.Path); err != nil {
		l.WithError(err).Error("connect failed")
		return
	}
	defer wsClient.Close()

	if err := wsClient.SubscribeOrderBook(cfg.Deribit.Instrument); err != nil {
		l.WithError(err).Error("book subscription failed")
		return
	}
	if token != "" {
		if err := wsClient.SubscribeOrderUpdates(cfg.Deribit.Instrument, token); err != nil {
			l.WithError(err).Error("order subscription failed")
		}
	}

	l.Info("streaming, press Ctrl+C to exit")
	for msg := range wsClient.Messages() {
		switch msg.Kind() {
		case ws.KindOrderBook:
			book, err := ws.DecodeBookUpdate(msg)
			if err != nil {
				l.WithError(err).Warn("bad book update")
				continue
			}
			entry := l.WithField("type", book.Type).WithField("change_id", book.ChangeID)
			if len(book.Bids) > 0 {
				entry = entry.WithField("bid", book.Bids[0].Price.String())
			}
			if len(book.Asks) > 0 {
				entry = entry.WithField("ask", book.Asks[0].Price.String())
			}
			entry.Info("book")
		case ws.KindOrderUpdate:
			orders, err := ws.DecodeOrderUpdate(msg)
			if err != nil {
				l.WithError(err).Warn("bad order update")
				continue
			}
			for _, o := range orders {
				l.WithField("order_id", o.ID).WithField("state", o.State).Info("order update")
			}
		case ws.KindReply:
			if msg.Error != nil {
				l.WithError(msg.Error).Error("request rejected")
			} else {
				l.WithField("result", string(msg.Result)).Debug("reply")
			}
		default:
			l.WithField("method", msg.Method).Debug("unhandled frame")
		}
	}
	l.WithError(wsClient.Err()).Info("stream finished")
}
