package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/agentdeck/config"
)

func newConfigCmd() *cobra.Command {
	var cfgPath, format string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			cfg.Prices = cfg.PriceTable()
			out := cmd.OutOrStdout()
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(cfg); err != nil {
					return err
				}
				return enc.Close()
			case "toml":
				return toml.NewEncoder(out).Encode(cfg)
			default:
				return fmt.Errorf("unknown format %q, want yaml or toml", format)
			}
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to a YAML or TOML config file")
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml or toml")
	return cmd
}
