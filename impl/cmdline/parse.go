package cmdline

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/aceeric/pullgather/impl/config"

	"github.com/urfave/cli/v3"
)

// fromCmdline will be populated with flags indicating which configuration settings were
// specified on the command line.
var fromCmdline config.FromCmdLine

// cfg has the parsed configuration - including defaults (e.g. concurrency) if the user does not override
var cfg = config.Configuration{}

func fileValidator(path string) error {
	if fi, err := os.Stat(path); err != nil {
		return fmt.Errorf("file not found")
	} else if fi.IsDir() {
		return fmt.Errorf("not a file")
	}
	return nil
}

func imageFileFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:        "image-file",
		Usage:       "Reads images from a file containing a list of image refs, one per line",
		Destination: &cfg.ImageFile,
		Validator:   fileValidator,
		Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
			fromCmdline.ImageFile = true
			return nil
		},
	}
}

// images captures the positional args of a command as image references
func images(cmd *cli.Command) {
	if cmd.Args().Len() > 0 {
		cfg.Images = cmd.Args().Slice()
		fromCmdline.Images = true
	}
}

// newCmds builds the command tree for the command line parser urfave/cli. The flags
// hold state from a parse so every parse gets a new tree.
func newCmds() *cli.Command {
	return &cli.Command{
		Name:  "pullgather",
		Usage: "pulls a list of container images concurrently with a live progress display",
		// define this or the parser terminates the program
		ExitErrHandler: func(_ context.Context, _ *cli.Command, _ error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Value:       "info",
				Usage:       "Sets the minimum value for logging: debug, warn, info, or error",
				Destination: &cfg.LogLevel,
				Validator: func(lvl string) error {
					validValues := []string{"debug", "warn", "info", "error"}
					if !slices.Contains(validValues, strings.ToLower(lvl)) {
						return fmt.Errorf("must be one of %s", strings.Join(validValues, ", "))
					}
					return nil
				},
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					fromCmdline.LogLevel = true
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "config-file",
				Usage:       "A file to load configuration values from (cmdline overrides file settings)",
				Destination: &cfg.ConfigFile,
				Validator:   fileValidator,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					fromCmdline.ConfigFile = true
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "log-file",
				Value:       "",
				Usage:       "log to the specified file rather than the console",
				Destination: &cfg.LogFile,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					fromCmdline.LogFile = true
					return nil
				},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "pull",
				Usage:     "Pulls images",
				ArgsUsage: "[image ...]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fromCmdline.Command = "pull"
					images(cmd)
					return nil
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "backend",
						Value:       config.DockerBackend,
						Usage:       "The fetch service: docker (a Docker Engine) or registry (direct from the upstream registry)",
						Destination: &cfg.Backend,
						Validator: func(backend string) error {
							if backend != config.DockerBackend && backend != config.RegistryBackend {
								return fmt.Errorf("must be one of %s, %s", config.DockerBackend, config.RegistryBackend)
							}
							return nil
						},
						Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
							fromCmdline.Backend = true
							return nil
						},
					},
					&cli.StringFlag{
						Name:        "docker-host",
						Usage:       "The Docker Engine to pull with (default: DOCKER_HOST or the local socket)",
						Destination: &cfg.DockerHost,
						Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
							fromCmdline.DockerHost = true
							return nil
						},
					},
					&cli.StringFlag{
						Name:        "docker-api-version",
						Usage:       "Pins the Docker Engine API version rather than negotiating it",
						Destination: &cfg.DockerApiVersion,
						Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
							fromCmdline.DockerApiVersion = true
							return nil
						},
					},
					&cli.StringFlag{
						Name:        "image-path",
						Value:       "/var/lib/pullgather",
						Usage:       "The blob store for the registry backend",
						Destination: &cfg.ImagePath,
						Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
							fromCmdline.ImagePath = true
							return nil
						},
					},
					imageFileFlag(),
					&cli.IntFlag{
						Name:        "concurrency",
						Value:       3,
						Usage:       "The max number of images to pull at the same time",
						Destination: &cfg.Concurrency,
						Validator: func(n int64) error {
							if n < 1 {
								return fmt.Errorf("must be at least 1")
							}
							return nil
						},
						Action: func(ctx context.Context, cmd *cli.Command, _ int64) error {
							fromCmdline.Concurrency = true
							return nil
						},
					},
					&cli.IntFlag{
						Name:        "max-attempts",
						Value:       3,
						Usage:       "The max number of times to try an image that times out (1 means no retry)",
						Destination: &cfg.MaxAttempts,
						Validator: func(n int64) error {
							if n < 1 {
								return fmt.Errorf("must be at least 1")
							}
							return nil
						},
						Action: func(ctx context.Context, cmd *cli.Command, _ int64) error {
							fromCmdline.MaxAttempts = true
							return nil
						},
					},
					&cli.StringFlag{
						Name:        "retry-backoff",
						Value:       "1s",
						Usage:       "The initial wait before retrying a timed out image, e.g. '500ms' or '2s'",
						Destination: &cfg.RetryBackoff,
						Validator: func(d string) error {
							_, err := time.ParseDuration(d)
							return err
						},
						Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
							fromCmdline.RetryBackoff = true
							return nil
						},
					},
					&cli.StringFlag{
						Name:        "os",
						Value:       runtime.GOOS,
						Usage:       "The operating system to pull images for",
						Destination: &cfg.Os,
						Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
							fromCmdline.Os = true
							return nil
						},
					},
					&cli.StringFlag{
						Name:        "arch",
						Value:       runtime.GOARCH,
						Usage:       "The architecture to pull images for",
						Destination: &cfg.Arch,
						Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
							fromCmdline.Arch = true
							return nil
						},
					},
					&cli.IntFlag{
						Name:        "status-port",
						Value:       0,
						Usage:       "Serves /health, /status and /metrics on this port while pulling (0 disables)",
						Destination: &cfg.StatusPort,
						Validator: func(port int64) error {
							if port < 0 || port > 65535 {
								return fmt.Errorf("must be between 0 and 65535")
							}
							return nil
						},
						Action: func(ctx context.Context, cmd *cli.Command, _ int64) error {
							fromCmdline.StatusPort = true
							return nil
						},
					},
					&cli.StringFlag{
						Name:        "report-file",
						Usage:       "Writes a JSON report of the run to this file",
						Destination: &cfg.ReportFile,
						Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
							fromCmdline.ReportFile = true
							return nil
						},
					},
					&cli.BoolFlag{
						Name:        "strict",
						Value:       false,
						Usage:       "Exits non-zero if any image was not pulled",
						Destination: &cfg.Strict,
						Action: func(ctx context.Context, cmd *cli.Command, _ bool) error {
							fromCmdline.Strict = true
							return nil
						},
					},
				},
			},
			{
				Name:      "list",
				Usage:     "Prints the resolved image list without pulling",
				ArgsUsage: "[image ...]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fromCmdline.Command = "list"
					images(cmd)
					return nil
				},
				Flags: []cli.Flag{
					imageFileFlag(),
				},
			},
			{
				Name:  "version",
				Usage: "Displays the version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fromCmdline.Command = "version"
					return nil
				},
			},
		},
	}
}

// Parse parses the command line. It returns the following:
//
//  1. A FromCmdLine struct which has the command to run ("pull", "list", etc.). If the command
//     is the empty string then no sub-command was specified in which case the parser auto-displays
//     help. This struct also has flags telling you which configuration values were provided by the
//     user on the command line.
//  2. A Configuration struct containing the parsed configuration values. For any configuration flag
//     in the FromCmdLine struct with a false value, the corresponding configuration value in *this*
//     struct will be the default.
//  3. An error, if the parser returned one, else nil.
func Parse() (config.FromCmdLine, config.Configuration, error) {
	if err := newCmds().Run(context.Background(), os.Args); err != nil {
		return config.FromCmdLine{}, config.Configuration{}, err
	}
	if len(cfg.TimeoutMarkers) == 0 {
		cfg.TimeoutMarkers = []string{"Client.Timeout"}
	}
	return fromCmdline, cfg, nil
}

// ClearParse supports unit testing
func ClearParse() {
	fromCmdline = config.FromCmdLine{}
	cfg = config.Configuration{}
}
