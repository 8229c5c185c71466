package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/meverselabs/relayer/cmd/closer"
	"github.com/meverselabs/relayer/cmd/config"
	"github.com/meverselabs/relayer/common/rlog"
	"github.com/meverselabs/relayer/core/executor"
	"github.com/meverselabs/relayer/core/forwarder"
	"github.com/meverselabs/relayer/core/registry"
	"github.com/meverselabs/relayer/core/validator"
	"github.com/meverselabs/relayer/service/apiserver"
	"github.com/meverselabs/relayer/service/metrics"
	"github.com/meverselabs/relayer/service/relay"
)

func serveCommand() *cobra.Command {
	var cfgPath, envPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "runs the relayer api server",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(cfgPath, envPath)
			if err != nil {
				rlog.Fatal("config: ", err)
			}
			if err := serve(cfg); err != nil {
				rlog.Fatal(err)
			}
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "config file path (.toml or .yaml)")
	cmd.Flags().StringVar(&envPath, "env", ".env", "env file path")
	return cmd
}

func serve(cfg *config.Config) error {
	if err := rlog.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
		return err
	}
	log := rlog.With("main")

	cm := closer.NewManager()
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		<-sigc
		cm.CloseAll()
	}()
	defer cm.CloseAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	cm.Add("ethclient", closer.CloserFunc(func() error {
		ec.Close()
		return nil
	}))

	key, err := executor.ParseKey(cfg.RelayerPrivateKey)
	if err != nil {
		return err
	}
	fwd := forwarder.NewClient(cfg.Forwarder(), ec)
	ex, err := executor.NewExecutor(ctx, ec, fwd, key, executor.Config{
		GasOverhead:    cfg.GasOverhead,
		GasPrice:       cfg.GasPrice(),
		ReceiptTimeout: cfg.ReceiptTimeout.Duration,
		PollInterval:   cfg.ReceiptPollInterval.Duration,
	})
	if err != nil {
		return err
	}

	var store registry.Store = registry.NewMemoryStore()
	if len(cfg.StoreDir) > 0 {
		ls, err := registry.NewLevelStore(cfg.StoreDir)
		if err != nil {
			return err
		}
		store = ls
	}
	reg := registry.NewRegistry(store)
	cm.Add("registry", reg)

	m := metrics.New()
	svc := relay.NewService(validator.NewValidator(fwd, cfg.MaxGas), ex, reg, m, relay.Config{
		QueueDepth:      cfg.QueueDepth,
		StatusCacheSize: cfg.StatusCacheSize,
		MinBalance:      cfg.MinBalance(),
		BalanceInterval: cfg.BalanceCheckInterval.Duration,
	})
	runDone := make(chan struct{})
	go func() {
		if err := svc.Run(ctx); err != nil {
			log.Error().Err(err).Msg("relay service stopped")
		}
		close(runDone)
		cm.CloseAll()
	}()
	cm.Add("relay", closer.CloserFunc(func() error {
		cancel()
		<-runDone
		return nil
	}))

	api := apiserver.NewAPIServer(svc, apiserver.Config{
		Workers: cfg.JRPCWorkers,
		Metrics: m.Handler(),
	})
	cm.Add("apiserver", api)

	log.Info().
		Str("address", ex.Address().Hex()).
		Str("forwarder", fwd.Address().Hex()).
		Str("chainId", ex.ChainID().String()).
		Msg("relayer ready")

	go func() {
		if err := api.Run(cfg.BindAddress()); err != nil {
			log.Error().Err(err).Msg("apiserver stopped")
		}
		cm.CloseAll()
	}()
	cm.Wait()
	return nil
}
