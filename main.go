package thumbnail

import (
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/go-thumbnail/internal/api"
	"github.com/m1k1o/go-thumbnail/internal/config"
	"github.com/m1k1o/go-thumbnail/internal/http"
	"github.com/m1k1o/go-thumbnail/internal/utils"
)

var Service *Main

func init() {
	Service = &Main{
		ServerConfig: &config.Server{},
	}
}

type Main struct {
	ServerConfig *config.Server

	logger     zerolog.Logger
	apiManager *api.ApiManagerCtx
	server     *http.ServerCtx
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()
}

func (main *Main) Start() {
	// the temp dir is shared by all generators, leftovers of a previous
	// run are cleared by the owner
	if err := utils.ClearDir(main.ServerConfig.TempDir); err != nil {
		main.logger.Err(err).Msg("unable to clear temp dir")
	}

	main.apiManager = api.New(main.ServerConfig)
	main.apiManager.Start()

	main.server = http.New(main.ServerConfig)
	main.server.Mount(main.apiManager.Mount)
	main.server.Start()
}

func (main *Main) Shutdown() {
	main.apiManager.Shutdown()

	if err := main.server.Shutdown(); err != nil {
		main.logger.Err(err).Msg("server shutdown with an error")
	} else {
		main.logger.Debug().Msg("server shutdown")
	}
}

func (main *Main) ServeCommand(cmd *cobra.Command, args []string) {
	main.logger.Info().Msg("starting main server")
	main.Start()
	main.logger.Info().Msg("main ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	sig := <-quit

	main.logger.Warn().Msgf("received %s, attempting graceful shutdown", sig)
	main.Shutdown()
	main.logger.Info().Msg("shutdown complete")
}
