package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var hostURL string
	var rootCmd = &cobra.Command{Use: "relayer"}
	rootCmd.PersistentFlags().StringVar(&hostURL, "host", "http://localhost:3002", "url of the relayer to access")
	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(infoCommand(&hostURL))
	rootCmd.AddCommand(statusCommand(&hostURL))
	rootCmd.AddCommand(relayCommand(&hostURL))
	rootCmd.AddCommand(nonceCommand())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printResult(res interface{}, err error) {
	if err != nil {
		fmt.Println("error :", err)
		return
	}
	bs, err := json.MarshalIndent(res, "", "\t")
	if err != nil {
		fmt.Println("error :", err)
	} else {
		fmt.Println(string(bs))
	}
}
