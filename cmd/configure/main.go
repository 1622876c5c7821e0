package main

import (
	"fmt"
	"os"

	"github.com/benvon/auth-gateway/cmd/configure/commands"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "auth-gateway-configure",
		Short: "Configuration tool for the auth gateway",
		Long:  "CLI tool for configuring trust providers and other settings",
	}

	rootCmd.AddCommand(commands.NewTrustCmd())
	rootCmd.AddCommand(commands.NewListCmd())
	rootCmd.AddCommand(commands.NewTestCmd())
	rootCmd.AddCommand(commands.NewCorsCmd())
	rootCmd.AddCommand(commands.NewRatelimitCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
