package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"PlagiCheck/internal"
	"PlagiCheck/internal/engine"
)

func scanFlags() []cli.Flag {
	return append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "fp",
			Usage: "Only generate the WFP fingerprint of the target (no scan)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write the WFP (with --fp) or the JSON results into this file instead of stdout",
		},
		&cli.IntFlag{
			Name:  "min-hits",
			Usage: "Minimum snippet hits for a code_snippet match",
			Value: internal.DefaultMinHits,
		},
	}, walkFlags()...)
}

// scanAction is the root command: scan a file, a directory or a .wfp file.
func scanAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one <file|directory|file.wfp> argument", 1)
	}
	target := c.Args().First()

	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.finish()

	ctx, cancel := runContext(c)
	defer cancel()

	walk, err := s.walkOptions(c)
	if err != nil {
		return err
	}

	if c.Bool("fp") {
		return s.fingerprint(ctx, c, target, walk)
	}

	if s.cfg.KB.Dir == "" {
		return cli.Exit("knowledge base dir is required (--kb or kb.dir)", 1)
	}
	if _, err := os.Stat(target); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	opts := internal.ScanOptions{
		WalkOptions:    walk,
		MinHits:        s.cfg.Scan.MinHits,
		RangeTolerance: s.cfg.Scan.RangeTolerance,
	}
	if err := opts.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := opts.Prepare(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	eng, err := engine.Open(engine.Config{
		KBDir:       s.cfg.KB.Dir,
		MaxMatches:  s.cfg.Scan.MaxMatches,
		MaxPostings: s.cfg.Scan.MaxPostings,
		RangeGap:    s.cfg.Scan.RangeGap,
		Debug:       s.debug,
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer eng.Close()

	fmt.Fprintf(c.App.ErrWriter, "Scanning files with %d threads...\n", opts.Threads)
	progress, done := s.progress("scanning")
	results := internal.Results{}
	err = internal.NewScanner(eng, &opts, s.stats).
		OnProgress(progress).
		ScanPath(ctx, target, internal.NewResultSink(results, s.stats))
	done()
	if err != nil {
		if ctx.Err() != nil {
			logrus.Warn("Scan cancelled, writing partial results")
		} else {
			return cli.Exit(fmt.Sprintf("scan failed: %v", err), 1)
		}
	}

	if err := writeJSON(c, c.String("output"), results); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	fmt.Fprintf(c.App.ErrWriter,
		"\n======= Scan finished in %s =======\nFiles scanned: %d\nFull file matches: %d\nSnippet matches: %d\nErrors: %d\n",
		s.stats.Elapsed(), s.stats.FilesScanned.Load(), s.stats.FullMatches.Load(),
		s.stats.SnippetMatches.Load(), s.stats.Errors.Load(),
	)
	return nil
}

func (s *session) fingerprint(ctx context.Context, c *cli.Context, target string, walk internal.WalkOptions) error {
	if err := walk.Prepare(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	w := c.App.Writer
	out := c.String("output")
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return cli.Exit(fmt.Sprintf("create output: %v", err), 1)
		}
		defer f.Close()
		w = f
	}

	progress, done := s.progress("fingerprinting")
	n, err := internal.NewFingerprinter(&walk, s.stats).OnProgress(progress).WriteWFP(ctx, target, w)
	done()
	if err != nil {
		return cli.Exit(fmt.Sprintf("fingerprint failed: %v", err), 1)
	}

	logrus.WithFields(logrus.Fields{"files": n, "elapsed": s.stats.Elapsed()}).Info("fingerprinting finished")
	if out != "" {
		fmt.Fprintf(c.App.ErrWriter, "WFP successfully generated at: %s\n", out)
	}
	return nil
}

// writeJSON prints v to the app writer, or into path when set.
func writeJSON(c *cli.Context, path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	b = append(b, '\n')
	if path == "" {
		_, err = c.App.Writer.Write(b)
		return err
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	fmt.Fprintf(c.App.ErrWriter, "Results written to: %s\n", path)
	return nil
}
