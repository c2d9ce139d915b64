// Command stockroom runs a voice assistant that manages a record store's
// inventory over a live speech session.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teslashibe/go-stockroom/internal/config"
	"github.com/teslashibe/go-stockroom/internal/log"

	// Registers the oto playback backend.
	_ "github.com/teslashibe/go-stockroom/pkg/audioio/otoout"
)

// app carries state shared by every subcommand.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:           "stockroom",
		Short:         "Voice-managed inventory for a record store",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("user", config.DefaultUserID, "user id that scopes the inventory")
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("user_id", flags.Lookup("user"))

	root.AddCommand(
		newServeCmd(a),
		newToolsCmd(a),
		newExportCmd(a),
		newGreetCmd(a),
	)
	return root
}

// load reads the config file if one was given and initializes logging.
// Logs go to stderr so command output stays clean.
func (a *app) load() error {
	if a.configPath != "" {
		a.v.SetConfigFile(a.configPath)
		if err := a.v.ReadInConfig(); err != nil {
			return err
		}
	}
	cfg, err := config.FromViper(a.v)
	if err != nil {
		return err
	}
	cfg.Log.Output = os.Stderr
	log.Init(cfg.Log)
	a.cfg = cfg
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
