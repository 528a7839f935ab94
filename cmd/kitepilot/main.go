// KitePilot turns free-text buy alerts from one Telegram channel into NSE
// limit orders on Zerodha Kite and tracks each order to a terminal state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ovais-007/KitePilot/internal/broker"
	"github.com/ovais-007/KitePilot/internal/config"
	"github.com/ovais-007/KitePilot/internal/decision"
	"github.com/ovais-007/KitePilot/internal/executor"
	"github.com/ovais-007/KitePilot/internal/journal"
	"github.com/ovais-007/KitePilot/internal/observ"
	"github.com/ovais-007/KitePilot/internal/pipeline"
	"github.com/ovais-007/KitePilot/internal/signal"
	"github.com/ovais-007/KitePilot/internal/symbols"
	"github.com/ovais-007/KitePilot/internal/telegram"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to yaml config")
		dryRun     = flag.Bool("dry-run", false, "parse, resolve and gate but never place orders")
	)
	flag.Parse()

	// .env is optional; real deployments export the secrets directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	observ.Init(cfg.LogLevel)

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *dryRun); err != nil && !errors.Is(err, context.Canceled) {
		observ.Error("fatal", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	observ.Log("shutdown_complete", nil)
}

func run(ctx context.Context, cfg config.Root, dryRun bool) error {
	kite, err := broker.NewKiteClient(broker.KiteConfig{
		BaseURL:            cfg.Kite.BaseURL,
		APIKey:             cfg.Kite.APIKey,
		AccessToken:        cfg.Kite.AccessToken,
		TimeoutSeconds:     cfg.Kite.TimeoutSeconds,
		RateLimitPerSecond: cfg.Kite.RateLimitPerSecond,
		Exchange:           cfg.Exchange,
	})
	if err != nil {
		return err
	}

	tg, err := telegram.NewClient(telegram.Config{
		BotToken:           cfg.Telegram.BotToken,
		PollTimeoutSeconds: cfg.Telegram.PollTimeoutSeconds,
	})
	if err != nil {
		return err
	}

	store, err := symbols.Open(cfg.Resolver.SymbolMapPath)
	if err != nil {
		return err
	}
	observ.Log("symbol_map_loaded", map[string]any{
		"path": cfg.Resolver.SymbolMapPath, "entries": store.Len(),
	})

	var (
		approver symbols.Approver
		queue    *symbols.AsyncQueue
	)
	switch cfg.Resolver.Mode {
	case "autoskip":
		approver = symbols.AutoSkip{}
	default: // queue
		queue = symbols.NewAsyncQueue(store, func(text string) {
			// Prompts must never block a pipeline run on the network.
			go func() {
				notifyCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				if err := tg.SendWithRetry(notifyCtx, cfg.Telegram.AdminChatID, text, 3); err != nil {
					observ.Warn("operator_prompt_failed", map[string]any{"error": err.Error()})
				}
			}()
		})
		approver = queue
	}

	universe := symbols.NewUniverse(kite, cfg.Exchange)
	resolver := symbols.NewResolver(store, universe, approver, cfg.Resolver.FuzzyThreshold)

	gate, err := decision.NewGate(decision.Policy(cfg.Trade.GatePolicy), decimal.NewFromFloat(cfg.Trade.TolerancePct))
	if err != nil {
		return err
	}

	execCfg := executor.Config{
		PollInterval:  time.Duration(cfg.Executor.PollIntervalMs) * time.Millisecond,
		PollTimeout:   time.Duration(cfg.Executor.PollTimeoutSeconds) * time.Second,
		BackoffFactor: cfg.Executor.BackoffFactor,
		MaxInterval:   time.Duration(cfg.Executor.MaxIntervalMs) * time.Millisecond,
	}
	if cfg.Trade.ConvertToMTF {
		execCfg.ConvertTo = broker.ProductMTF
	}

	jr, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return err
	}

	pl := pipeline.New(pipeline.Options{
		Parser:     signal.NewRegexParser(),
		Resolver:   resolver,
		Broker:     kite,
		Gate:       gate,
		Executor:   executor.New(kite, execCfg),
		Journal:    jr,
		CashBudget: decimal.NewFromFloat(cfg.Trade.CashPerTrade),
		Product:    broker.ProductCNC,
		DryRun:     dryRun,
		Notify: func(text string) {
			notifyCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := tg.SendWithRetry(notifyCtx, cfg.Telegram.AdminChatID, text, 3); err != nil {
				observ.Warn("operator_alert_failed", map[string]any{"error": err.Error()})
			}
		},
	})

	g, ctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.Health())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		observ.Log("metrics_listening", map[string]any{"addr": cfg.MetricsAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		observ.Log("listening", map[string]any{
			"channel": cfg.Telegram.Channel, "exchange": cfg.Exchange, "dry_run": dryRun,
		})
		return tg.Listen(ctx, cfg.Telegram.Channel, cfg.Telegram.AdminChatID,
			func(text string) { pl.Dispatch(ctx, text) },
			commandHandler(queue))
	})

	return g.Wait()
}

// commandHandler routes operator commands from the admin chat. With the
// autoskip resolver there is nothing to approve, so only /pending exists as
// a stub reply.
func commandHandler(queue *symbols.AsyncQueue) telegram.CommandHandler {
	return func(command string) string {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return ""
		}
		switch strings.ToLower(fields[0]) {
		case "/map":
			if queue == nil {
				return "resolver mode is autoskip; /map is disabled"
			}
			if len(fields) < 3 {
				return "usage: /map NAME SYMBOL"
			}
			name := strings.Join(fields[1:len(fields)-1], " ")
			symbol := fields[len(fields)-1]
			if err := queue.Approve(name, symbol); err != nil {
				return "map failed: " + err.Error()
			}
			return fmt.Sprintf("mapped %q -> %s", symbols.Normalize(name), symbols.Normalize(symbol))
		case "/pending":
			if queue == nil {
				return "resolver mode is autoskip; nothing pending"
			}
			pending := queue.Pending()
			if len(pending) == 0 {
				return "no names pending"
			}
			lines := make([]string, 0, len(pending))
			for _, p := range pending {
				if p.Candidate != "" {
					lines = append(lines, fmt.Sprintf("%s (closest: %s %.0f%%)", p.Name, p.Candidate, p.Score*100))
				} else {
					lines = append(lines, p.Name)
				}
			}
			return "pending:\n" + strings.Join(lines, "\n")
		default:
			return "commands: /map NAME SYMBOL, /pending"
		}
	}
}
