package main

import (
	"fmt"
	"os"

	"bookwatch-tui/internal/app"
	"bookwatch-tui/internal/config"
	"bookwatch-tui/internal/monitor"
	"bookwatch-tui/internal/service"
	"bookwatch-tui/internal/storage"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	c := &cli{}
	err := c.command().Execute()
	c.close()
	if err != nil {
		os.Exit(1)
	}
}

// cli holds what the persistent pre-run resolves for every command.
type cli struct {
	configPath string

	loader   *config.Loader
	settings config.Settings
	logger   *logrus.Logger
	activity *service.ActivityHook
	closeLog func()
	client   *service.Client
}

func (c *cli) command() *cobra.Command {
	root := &cobra.Command{
		Use:               "bookwatch-tui",
		Short:             "Watch and manage book generation jobs",
		Long:              "Without a subcommand bookwatch-tui opens the terminal UI. Subcommands run once and print to stdout.",
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		RunE:              c.runTUI,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default ./bookwatch.yaml or $HOME/.bookwatch/bookwatch.yaml)")
	flags.String("backend-url", "", "book service base URL")
	flags.String("data-dir", "", "directory for downloads, snapshots, exports and the log")

	root.AddCommand(
		c.healthCommand(),
		c.listCommand(),
		c.statusCommand(),
		c.createCommand(),
		c.cancelCommand(),
		c.viewCommand(),
		c.downloadCommand(),
		c.exportListCommand(),
		c.snapshotsCommand(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	c.loader = config.NewLoader(c.configPath)
	v := c.loader.Viper()
	for key, name := range map[string]string{
		config.KeyBackendURL: "backend-url",
		config.KeyDataDir:    "data-dir",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}

	settings, err := c.loader.Load()
	if err != nil {
		return err
	}
	c.settings = settings

	logger, closeLog, err := config.NewLogger(settings)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "logging disabled: %v\n", err)
	}
	c.logger = logger
	c.closeLog = closeLog
	c.activity = service.NewActivityHook(logrus.InfoLevel)
	c.logger.AddHook(c.activity)

	c.client = service.NewClient(settings.BackendURL,
		service.WithLogger(c.logger),
		service.WithRequestTimeout(settings.RequestTimeout),
	)
	c.logger.WithFields(logrus.Fields{
		"command":     cmd.Name(),
		"backend_url": settings.BackendURL,
		"config_file": settings.ConfigFile,
	}).Debug("cli.start")
	return nil
}

func (c *cli) close() {
	if c.closeLog != nil {
		c.closeLog()
	}
}

func (c *cli) store() (*storage.Store, error) {
	store, err := storage.NewStore(c.settings.DataDir, storage.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func (c *cli) runTUI(cmd *cobra.Command, _ []string) error {
	store, err := c.store()
	if err != nil {
		return err
	}

	model := app.NewModel(c.client, store, app.ModelOptions{
		Refresh: monitor.Settings{
			AutoRefresh: c.settings.AutoRefresh,
			Interval:    c.settings.RefreshInterval,
		},
		HealthInterval: c.settings.HealthInterval,
		BackendURL:     c.settings.BackendURL,
		Activity:       c.activity,
		Logger:         c.logger,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(cmd.Context()))

	watching := c.loader.Watch(
		func(settings config.Settings) {
			c.logger.WithField("file", settings.ConfigFile).Info("config.reloaded")
			program.Send(app.SettingsChangedMsg{Settings: settings})
		},
		func(err error) {
			c.logger.WithError(err).Warn("config.reload.failed")
		},
	)
	if watching {
		c.logger.WithField("file", c.settings.ConfigFile).Info("config.watch.started")
	}

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tui exited with error: %w", err)
	}
	return nil
}
