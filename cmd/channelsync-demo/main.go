// Command channelsync-demo runs a short synchronization scenario against the
// in-memory store and prints the results. Useful for eyeballing log output
// and event flow.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/commercekit/channelsync/channelsync"
	"github.com/commercekit/channelsync/config"
	"github.com/commercekit/channelsync/logging"
	"github.com/commercekit/channelsync/storage/memory"
)

type printPublisher struct{}

func (printPublisher) Publish(ctx context.Context, ev channelsync.Event) error {
	fmt.Printf("event %s: %s product=%s channel=%s conflict=%v\n",
		ev.ID, ev.Kind, ev.ProductID, ev.ChannelID, ev.ConflictDetected)
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to engine YAML config")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := logging.NewLogger(cfg.Logging)
	store := memory.New()

	opts := append(cfg.ServiceOptions(),
		channelsync.WithLogger(logger.Logger),
		channelsync.WithPublisher(printPublisher{}))
	svc, err := channelsync.NewService(store, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building service: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx := context.Background()
	product := channelsync.ProductState{
		ProductID:     "sku-1001",
		Active:        true,
		BasePrice:     decimal.RequireFromString("50.00"),
		Currency:      "USD",
		StockQuantity: 120,
	}
	channel := channelsync.ChannelState{
		ChannelID:  "webstore",
		Active:     true,
		Multiplier: decimal.RequireFromString("1.1"),
	}

	res, err := svc.SynchronizeFromProduct(ctx, product, channel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initial sync: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("synchronized %s on %s in %s\n", res.ProductID, res.ChannelID, res.Duration)

	newPrice := decimal.RequireFromString("60.00")
	res, err = svc.SynchronizePriceUpdate(ctx, product.ProductID, channel.ChannelID,
		channelsync.PricingPayload{Price: &newPrice})
	if err != nil {
		fmt.Fprintf(os.Stderr, "price update: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("price update applied, changes: %v\n", res.Changes)

	cp, err := store.Get(ctx, product.ProductID, channel.ChannelID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading back: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("effective price %s %s at version %d\n", cp.EffectivePrice, cp.Currency, cp.Version)
}
