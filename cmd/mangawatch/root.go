package main

import (
	"sync"

	"github.com/spf13/cobra"

	"mangawatch/internal/app"
	"mangawatch/internal/config"
	logx "mangawatch/pkg/logx"
)

type commandContext struct {
	configFlag *string

	once sync.Once
	cfg  *config.Config
	err  error
}

func (c *commandContext) config() (*config.Config, error) {
	c.once.Do(func() {
		c.cfg, c.err = app.LoadConfig(*c.configFlag)
	})
	return c.cfg, c.err
}

// withOffline opens storage for a one-shot command and closes it afterwards.
func (c *commandContext) withOffline(fn func(o *app.Offline) error) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	o, err := app.OpenOffline(cfg, logx.NewConsole(cfg.Logging.Level))
	if err != nil {
		return err
	}
	defer o.Close()
	return fn(o)
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	root := &cobra.Command{
		Use:           "mangawatch",
		Short:         "Watch manga and webcomic sites for new chapters",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "./config.json", "path to config file (.json, .yaml, .toml)")

	root.AddCommand(
		newRunCommand(ctx),
		newExtractCommand(ctx),
		newAddCommand(ctx),
		newWorksCommand(ctx),
		newChannelsCommand(ctx),
	)
	return root
}
