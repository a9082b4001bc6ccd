package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/zeromicro/go-zero/core/logx"

	"tradecore/internal/cli"
	"tradecore/internal/config"
	"tradecore/pkg/admission"
	"tradecore/pkg/connectivity"
	"tradecore/pkg/engine"
	"tradecore/pkg/events"
	exchangepkg "tradecore/pkg/exchange"
	_ "tradecore/pkg/exchange/sim"
	"tradecore/pkg/journal"
	"tradecore/pkg/session"
)

func fatalf(format string, args ...interface{}) {
	logx.Errorf(format, args...)
	os.Exit(1)
}

type accountRuntime struct {
	account  exchangepkg.AccountID
	surface  *engine.Exchange
	sessions *session.Manager
	owners   []*connectivity.Owner
	private  bool
}

func buildRuntime(
	cfg *config.Config,
	account exchangepkg.AccountID,
	client exchangepkg.Client,
	ctrl *admission.Controller,
	bus *events.Bus,
	jw *journal.Writer,
) (*accountRuntime, error) {
	accountCfg, ok := cfg.Exchange.Value.Accounts[account.String()]
	if !ok {
		return nil, errors.New("account missing from exchange config")
	}
	pairs, err := accountCfg.CurrencyPairs()
	if err != nil {
		return nil, err
	}

	ctrl.RegisterAccount(account, cfg.Limits())

	sessions := session.NewManager(account, client, ctrl,
		session.WithRenewInterval(cfg.RenewInterval()))
	resolver := connectivity.NewResolver(account, client, pairs, accountCfg.Channels, sessions)

	opts := []engine.Option{}
	if jw != nil {
		opts = append(opts, engine.WithJournal(jw))
	}
	surface := engine.New(account, client, ctrl, bus, opts...)

	handler := func(role connectivity.Role, payload []byte) {
		// Adapters own payload parsing; the launcher only observes traffic.
		logx.Debugf("ws %s/%s: %d byte frame", account, role, len(payload))
	}
	owners := []*connectivity.Owner{
		connectivity.NewOwner(account, resolver, connectivity.RolePrimary, handler),
	}
	if client.IsWsSecondarySupported() {
		owners = append(owners,
			connectivity.NewOwner(account, resolver, connectivity.RoleSecondary, handler))
	}

	return &accountRuntime{
		account:  account,
		surface:  surface,
		sessions: sessions,
		owners:   owners,
		private:  client.IsWsSecondarySupported(),
	}, nil
}

func (rt *accountRuntime) start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rt.surface.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logx.Errorf("engine %s: event loop: %v", rt.account, err)
		}
	}()

	if rt.private {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := rt.sessions.Run(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			var exhausted *session.ExhaustedError
			if errors.As(err, &exhausted) {
				// Push channel unavailable; trading continues on REST alone.
				logx.Errorf("session %s: %v", rt.account, exhausted)
				return
			}
			logx.Errorf("session %s: %v", rt.account, err)
		}()
	}

	for _, owner := range rt.owners {
		owner := owner
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := owner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logx.Errorf("connectivity %s: %v", rt.account, err)
			}
		}()
	}
}

func main() {
	configPath := flag.String("config", "etc/engine.yaml", "path to engine configuration")
	flag.Parse()
	logx.MustSetup(logx.LogConf{})
	logx.DisableStat()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	cli.LogConfigSummary(cfg)

	if cfg.Exchange.Value == nil {
		fatalf("no exchange configuration; set exchange.file in %s", cfg.MainPath())
	}
	clients, err := cfg.Exchange.Value.BuildClients()
	if err != nil {
		fatalf("build exchange clients: %v", err)
	}

	ctrl := admission.NewController()
	defer ctrl.Close()
	bus := events.NewBus(cfg.Bus.Capacity)
	defer bus.Close()

	var jw *journal.Writer
	if !cfg.Journal.Disabled {
		jw, err = journal.NewWriter(cfg.Journal.Dir)
		if err != nil {
			fatalf("open journal: %v", err)
		}
		defer func() {
			_ = jw.Close()
		}()
		logx.Infof("journaling events to %s", jw.Path())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for account, client := range clients {
		rt, buildErr := buildRuntime(cfg, account, client, ctrl, bus, jw)
		if buildErr != nil {
			fatalf("wire account %s: %v", account, buildErr)
		}
		rt.start(ctx, &wg)
		logx.Infof("started account %s (private channel: %v)", account, rt.private)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logx.Infof("received signal %s, shutting down", sig)
	cancel()
	wg.Wait()
	logx.Info("engine stopped")
}
