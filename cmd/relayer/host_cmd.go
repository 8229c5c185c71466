package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/meverselabs/relayer/client"
	"github.com/meverselabs/relayer/core/forwarder"
	"github.com/meverselabs/relayer/service/apiserver"
)

func infoCommand(pHostURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "shows the relayer account and queue",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printResult(client.New(*pHostURL).Info(context.Background()))
		},
	}
}

func statusCommand(pHostURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status [tx hash]",
		Short: "shows the status of a relayed transaction",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			hash, err := apiserver.ParseHash(args[0])
			if err != nil {
				printResult(nil, err)
				return
			}
			printResult(client.New(*pHostURL).Status(context.Background(), hash))
		},
	}
}

func relayCommand(pHostURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "relay [submission json file]",
		Short: "submits a signed forward request",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f, err := os.Open(args[0])
			if err != nil {
				printResult(nil, errors.WithStack(err))
				return
			}
			defer f.Close()

			var w forwarder.WireSubmission
			if err := json.NewDecoder(f).Decode(&w); err != nil {
				printResult(nil, errors.WithStack(err))
				return
			}
			printResult(client.New(*pHostURL).Relay(context.Background(), &w))
		},
	}
}
