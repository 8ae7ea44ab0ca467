package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"PlagiCheck/internal"
	"PlagiCheck/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "plagicheck",
		Usage:     "Fingerprint source code and scan it against an open-source knowledge base",
		UsageText: "plagicheck [options] <file|directory|file.wfp>",
		Version:   fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags:     append(globalFlags(), scanFlags()...),
		Action:    scanAction,
		Commands: []*cli.Command{
			kbCommand(),
			inspectCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "YAML configuration file",
		},
		&cli.StringFlag{
			Name:  "env",
			Usage: "Configuration profile: default, dev, cert, prod, sandbox, integration, qa",
			Value: "default",
		},
		&cli.StringFlag{
			Name:  "kb",
			Usage: "Knowledge base directory",
		},
		&cli.StringFlag{
			Name:  "logfile",
			Usage: "Write logs into file instead of stderr",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"d"},
			Usage:   "Enable debug mode (show detailed processing information)",
		},
		&cli.StringFlag{
			Name:  "metrics-file",
			Usage: "Write Prometheus metrics in text format to this file on exit",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Global timeout (e.g. 10m, 1h)",
		},
		&cli.BoolFlag{
			Name:  "no-progress",
			Usage: "Do not draw progress bars",
		},
	}
}

// walkFlags are shared by everything that fingerprints a tree.
func walkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "threads",
			Aliases: []string{"T"},
			Usage:   "Number of parallel workers",
		},
		&cli.IntFlag{
			Name:  "depth",
			Usage: "Max directory depth (0 - unlimited)",
		},
		&cli.BoolFlag{
			Name:  "archives",
			Usage: "Also fingerprint files inside archives (.zip,.tar,.gz,.bz2,.xz,.rar,.7z,...)",
		},
		&cli.StringFlag{
			Name:  "ignore-file",
			Usage: "File with path patterns to skip: plain lines, 'plain:i:' for case-insensitive, or 're:<regex>'",
		},
		&cli.StringSliceFlag{
			Name:  "whitelist",
			Usage: "Only fingerprint these extensions (comma separated, e.g. c,go,js)",
		},
		&cli.StringSliceFlag{
			Name:  "blacklist",
			Usage: "Skip these extensions (comma separated). If whitelist is set, blacklist is ignored.",
		},
		&cli.BoolFlag{
			Name:  "fail-fast",
			Usage: "Stop on the first walk or read error",
		},
	}
}

// session holds what every command needs after flags and config are read.
type session struct {
	cfg     *config.Config
	stats   *internal.AppStats
	metrics *internal.Metrics
	debug   bool
	bars    bool
}

func setup(c *cli.Context) (*session, error) {
	env, err := config.ParseEnvironment(c.String("env"))
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}

	overrides := map[string]any{}
	for flag, key := range map[string]string{
		"kb":           "kb.dir",
		"logfile":      "log.file",
		"log-level":    "log.level",
		"metrics-file": "metrics.file",
	} {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}
	for flag, key := range map[string]string{
		"threads":  "scan.threads",
		"min-hits": "scan.min_hits",
	} {
		if c.IsSet(flag) {
			overrides[key] = c.Int(flag)
		}
	}

	cfg, err := config.NewLoader(
		config.WithConfigFile(c.String("config")),
		config.WithEnvironment(env),
	).Load(overrides)
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}

	debug := c.Bool("debug")
	level := cfg.Log.Level
	if debug {
		level = "debug"
	}
	internal.InitLogger(cfg.Log.File, level)
	logrus.WithFields(logrus.Fields{"env": env, "kb": cfg.KB.Dir}).Debug("configuration loaded")

	s := &session{
		cfg:   cfg,
		stats: &internal.AppStats{},
		debug: debug,
		bars:  !c.Bool("no-progress") && !debug,
	}
	if cfg.Metrics.File != "" {
		s.metrics = internal.NewMetrics()
		s.stats.WithMetrics(s.metrics)
	}
	s.stats.Start()
	return s, nil
}

// finish flushes the metrics file.
func (s *session) finish() {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.WriteFile(s.cfg.Metrics.File); err != nil {
		logrus.WithError(err).Warn("write metrics")
	}
}

// runContext applies --timeout and OS signals.
func runContext(c *cli.Context) (context.Context, context.CancelFunc) {
	base := context.Background()

	var cancel context.CancelFunc
	if t := c.Duration("timeout"); t > 0 {
		base, cancel = context.WithTimeout(base, t)
	} else {
		base, cancel = context.WithCancel(base)
	}

	ctx, stop := signal.NotifyContext(base, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}

// walkOptions builds validated fingerprint options from flags and config.
func (s *session) walkOptions(c *cli.Context) (internal.WalkOptions, error) {
	opts := internal.WalkOptions{
		Threads:    s.cfg.Scan.Threads,
		Depth:      c.Int("depth"),
		Archives:   c.Bool("archives"),
		IgnoreFile: c.String("ignore-file"),
		Whitelist:  normExt(c.StringSlice("whitelist")),
		Blacklist:  normExt(c.StringSlice("blacklist")),
		FailFast:   c.Bool("fail-fast"),
	}
	if err := opts.Validate(); err != nil {
		return opts, cli.Exit(err.Error(), 1)
	}
	return opts, nil
}

// normExt turns "c, .GO,js" style values into ".c", ".go", ".js".
func normExt(s []string) []string {
	out := make([]string, 0, len(s))
	for _, ext := range s {
		for _, v := range strings.Split(ext, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			v = strings.TrimPrefix(v, ".")
			out = append(out, "."+strings.ToLower(v))
		}
	}
	return out
}

// progress returns a bar-backed callback, or nil when bars are off.
func (s *session) progress(desc string) (internal.Progress, func()) {
	if !s.bars {
		return nil, func() {}
	}
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	return func(done, total int64) {
			if total > 0 {
				bar.ChangeMax64(total)
			}
			_ = bar.Set64(done)
		}, func() {
			_ = bar.Finish()
		}
}
