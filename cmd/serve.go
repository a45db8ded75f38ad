package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	thumbnail "github.com/m1k1o/go-thumbnail"
)

func init() {
	command := &cobra.Command{
		Use:   "serve",
		Short: "serve thumbnail server",
		Long:  `serve thumbnail server`,
		Run:   thumbnail.Service.ServeCommand,
	}

	configs := []Config{
		thumbnail.Service.ServerConfig,
	}

	cobra.OnInitialize(func() {
		for _, cfg := range configs {
			cfg.Set()
		}
		thumbnail.Service.Preflight()
	})

	for _, cfg := range configs {
		if err := cfg.Init(command); err != nil {
			log.Panic().Err(err).Msg("unable to run serve command")
		}
	}

	rootCmd.AddCommand(command)
}
