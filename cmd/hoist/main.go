package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hoistd/hoist/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "hoist",
	Short:   "Attachment server with signed download URLs",
	Long: `Hoist serves, uploads and transforms file attachments addressed by
opaque ids, with HMAC-signed download URLs and pluggable storage backends.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
			files = []string{configFile}
		}

		cfg, err := config.Load(files, cmd.Flags())
		if err != nil {
			return err
		}

		setupLogging(cfg.Log.Level)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("secret", "", "token signing secret (env: HOIST_TOKEN_SECRET)")
	rootCmd.PersistentFlags().String("storage-path", "", "filesystem backend directory (default: ./data, env: HOIST_BACKENDS_FILESYSTEM_PATH)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
