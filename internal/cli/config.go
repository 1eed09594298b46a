package cli

import (
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/drblury/replybridge"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets redacted",
	Long: `Print the configuration replybridge would run with after merging the
config file, REPLYBRIDGE_* environment variables and defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig("")
		if err != nil {
			return err
		}
		return printConfig(cmd.OutOrStdout(), conf)
	},
}

func printConfig(w io.Writer, conf *replybridge.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(conf.Redacted()); err != nil {
		return err
	}
	return enc.Close()
}
