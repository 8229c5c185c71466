package main

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/meverselabs/relayer/cmd/config"
	"github.com/meverselabs/relayer/core/forwarder"
	"github.com/meverselabs/relayer/core/validator"
)

func nonceCommand() *cobra.Command {
	var cfgPath, envPath string
	cmd := &cobra.Command{
		Use:   "nonce [address]",
		Short: "reads the forwarder nonce of the signer",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if !forwarder.IsAddress(args[0]) {
				printResult(nil, errors.Errorf("invalid address %v", args[0]))
				return
			}
			addr := common.HexToAddress(args[0])
			cfg, err := config.Load(cfgPath, envPath)
			if err != nil {
				printResult(nil, err)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
			if err != nil {
				printResult(nil, err)
				return
			}
			defer ec.Close()

			v := validator.NewValidator(forwarder.NewClient(cfg.Forwarder(), ec), cfg.MaxGas)
			n, err := v.FetchExpectedNonce(ctx, addr)
			if err != nil {
				printResult(nil, err)
				return
			}
			printResult(n.String(), nil)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "config file path (.toml or .yaml)")
	cmd.Flags().StringVar(&envPath, "env", ".env", "env file path")
	return cmd
}
