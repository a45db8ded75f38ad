package config

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Generator holds per-generator defaults, overridable per request on the
// control api. The boolean options are on when either the default or the
// request sets them, so a request cannot switch a default of true off.
type Generator struct {
	Interval              float64 `mapstructure:"interval"`
	TargetThumbnailCount  int     `mapstructure:"target-thumbnail-count"`
	InitialThumbnailCount int     `mapstructure:"initial-thumbnail-count"`

	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`

	ExpireTime  int  `mapstructure:"expire-time"` // seconds
	NeverDelete bool `mapstructure:"never-delete"`

	IgnorePlaylist404 bool `mapstructure:"ignore-playlist-404"`

	// pointer so a configured zero (single attempt) is distinguishable
	// from an absent key
	PlaylistRetryCount *int `mapstructure:"playlist-retry-count"`

	FFmpegBinary  string `mapstructure:"ffmpeg-binary"`
	FFmpegTimeout int    `mapstructure:"ffmpeg-timeout"` // seconds
}

type Server struct {
	PProf bool

	Cert  string
	Key   string
	Bind  string
	Proxy bool

	OutputDir   string
	TempDir     string
	PingTimeout time.Duration

	Generator Generator
}

func (Server) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().Bool("pprof", false, "enable pprof endpoint available at /debug/pprof")
	if err := viper.BindPFlag("pprof", cmd.PersistentFlags().Lookup("pprof")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("bind", "127.0.0.1:8080", "address/port/socket to serve the api")
	if err := viper.BindPFlag("bind", cmd.PersistentFlags().Lookup("bind")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("cert", "", "path to the SSL cert used to secure the server")
	if err := viper.BindPFlag("cert", cmd.PersistentFlags().Lookup("cert")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("key", "", "path to the SSL key used to secure the server")
	if err := viper.BindPFlag("key", cmd.PersistentFlags().Lookup("key")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("proxy", false, "allow reverse proxies")
	if err := viper.BindPFlag("proxy", cmd.PersistentFlags().Lookup("proxy")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("output-dir", "", "directory where thumbnails and manifests are written")
	if err := viper.BindPFlag("output-dir", cmd.PersistentFlags().Lookup("output-dir")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("temp-dir", "", "directory for downloaded segments, cleared on startup")
	if err := viper.BindPFlag("temp-dir", cmd.PersistentFlags().Lookup("temp-dir")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("ping-timeout", 0, "destroy generators not pinged for this long, 0 disables the reaper")
	if err := viper.BindPFlag("ping-timeout", cmd.PersistentFlags().Lookup("ping-timeout")); err != nil {
		return err
	}

	return nil
}

func (s *Server) Set() {
	s.PProf = viper.GetBool("pprof")

	s.Cert = viper.GetString("cert")
	s.Key = viper.GetString("key")
	s.Bind = viper.GetString("bind")
	s.Proxy = viper.GetBool("proxy")

	s.OutputDir = viper.GetString("output-dir")
	s.TempDir = viper.GetString("temp-dir")
	s.PingTimeout = viper.GetDuration("ping-timeout")

	// defaults

	if s.OutputDir == "" {
		cwd, _ := os.Getwd()
		s.OutputDir = cwd
	} else {
		err := os.MkdirAll(s.OutputDir, 0755)
		if err != nil {
			panic(err)
		}
	}

	if s.TempDir == "" {
		var err error
		s.TempDir, err = os.MkdirTemp(os.TempDir(), "go-thumbnail")
		if err != nil {
			panic(err)
		}
	} else {
		err := os.MkdirAll(s.TempDir, 0755)
		if err != nil {
			panic(err)
		}
	}

	if err := viper.UnmarshalKey("generator", &s.Generator); err != nil {
		panic(err)
	}

	if s.Generator.FFmpegBinary == "" {
		s.Generator.FFmpegBinary = "ffmpeg"
	}
}
