package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/deepskandpal/LangChef/cmd/langchefctl/internal/client"
	"github.com/deepskandpal/LangChef/cmd/langchefctl/internal/credstore"
)

var (
	serverURL string
	configDir string
)

var rootCmd = &cobra.Command{
	Use:   "langchefctl",
	Short: "LangChef CLI",
	Long: `langchefctl signs in to a LangChef server with your AWS IAM Identity Center
account and stores the resulting bearer token for later commands.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaultServer := os.Getenv("LANGCHEF_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8000"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "LangChef API server URL (also set via LANGCHEF_SERVER)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory for stored credentials (default ~/.langchef)")
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, statusCmd, refreshCmd)
}

// authenticated loads the stored token and returns a client for the server it was issued by.
func authenticated(cmd *cobra.Command) (*client.Client, *credstore.FileStore, *credstore.Credentials, error) {
	store, err := credstore.NewFileStore(configDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create credential store: %w", err)
	}
	creds, err := store.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	server := serverURL
	if !cmd.Flags().Changed("server") && creds.Server != "" {
		server = creds.Server
	}
	return client.NewAuthenticated(cmd.Context(), server, creds.AccessToken), store, creds, nil
}
