package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/josephlewis42/jobsh/core/config"
	"github.com/josephlewis42/jobsh/core/executor"
	"github.com/josephlewis42/jobsh/core/logger"
	"github.com/josephlewis42/jobsh/core/shell"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

var (
	cfgPath          string
	commandString    string
	forceInteractive bool
	noJobControl     bool
	logFile          string
	logLevel         string

	exitStatus int
)

func loadConfig(cmd *cobra.Command) (*config.Configuration, error) {
	configuration, err := config.Load(afero.NewOsFs(), cfgPath)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-file") {
		configuration.LogFile = logFile
	}
	if cmd.Flags().Changed("log-level") {
		configuration.LogLevel = logLevel
	}
	return configuration, configuration.Validate()
}

// openLog returns the application logger and a function that closes it.
func openLog(cfg *config.Configuration) (*zap.SugaredLogger, func(), error) {
	if cfg.LogPath() == "" {
		return logger.Nop(), func() {}, nil
	}

	f, err := cfg.OpenAppLog()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(f, cfg.LogLevel, logger.NewSessionID())
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return log, func() {
		log.Sync()
		f.Close()
	}, nil
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jobsh [flags] [script [args...]]",
	Short: "A POSIX shell with job control",
	Long: `jobsh runs commands read from a terminal, a script file, standard input
or the -c flag. Interactive sessions on a terminal get job control:
suspend with ^Z and manage jobs with jobs, fg, bg, wait and kill.`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		log, closeLog, err := openLog(cfg)
		if err != nil {
			return err
		}
		defer closeLog()

		opts := shell.Options{
			Config: cfg,
			Log:    log,
			Name:   executor.ShellName,
		}

		var script io.Reader
		switch {
		case cmd.Flags().Changed("command"):
			if len(args) > 0 {
				opts.Name, opts.Params = args[0], args[1:]
			}
		case len(args) > 0:
			f, err := os.Open(args[0])
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", executor.ShellName, err)
				exitStatus = executor.StatusNotFound
				return nil
			}
			defer f.Close()
			script = f
			opts.Name, opts.Params = args[0], args[1:]
		default:
			script = os.Stdin
		}

		stdinIsTerminal := term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
		opts.Interactive = forceInteractive ||
			(!cmd.Flags().Changed("command") && len(args) == 0 && stdinIsTerminal)
		opts.JobControl = !noJobControl && stdinIsTerminal && cfg.WantJobControl(opts.Interactive)

		log.Infow("shell starting",
			"interactive", opts.Interactive,
			"job_control", opts.JobControl,
			"name", opts.Name)

		s, err := shell.New(opts)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(context.Background(), unix.SIGHUP)
		defer stop()

		switch {
		case cmd.Flags().Changed("command"):
			exitStatus, _ = s.RunString(ctx, commandString)
		case opts.Interactive:
			if exitStatus, err = s.Run(ctx); err != nil {
				return err
			}
		default:
			exitStatus = s.RunScript(ctx, script)
		}

		log.Infow("shell exiting", "status", exitStatus)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
	os.Exit(exitStatus)
}

func init() {
	flags := rootCmd.Flags()
	// Everything after the script name belongs to the script.
	flags.SetInterspersed(false)
	flags.StringVarP(&commandString, "command", "c", "", "run the commands in the string and exit")
	flags.BoolVarP(&forceInteractive, "interactive", "i", false, "run interactively even if input is not a terminal")
	flags.BoolVar(&noJobControl, "no-job-control", false, "disable job control")
	flags.StringVar(&logFile, "log-file", "", "write the application log to this file")
	flags.StringVar(&logLevel, "log-level", "info", "application log level: debug, info, warn or error")

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultDir(), "config directory")
}
