package main

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"PlagiCheck/internal"
	"PlagiCheck/internal/engine"
	"PlagiCheck/internal/kb"
)

func kbCommand() *cli.Command {
	return &cli.Command{
		Name:  "kb",
		Usage: "Manage the knowledge base",
		Subcommands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Fingerprint files, directories or .wfp files into the knowledge base",
				ArgsUsage: "<path>...",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "url",
						Usage:    "Component URL recorded for every imported file",
						Required: true,
					},
				}, walkFlags()...),
				Action: kbImportAction,
			},
			{
				Name:      "lookup",
				Usage:     "Show the knowledge base record of a file MD5",
				ArgsUsage: "<md5>",
				Action:    kbLookupAction,
			},
			{
				Name:   "stats",
				Usage:  "Print knowledge base counters",
				Action: kbStatsAction,
			},
		},
	}
}

func kbImportAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("expected at least one <path> to import", 1)
	}
	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.finish()
	if s.cfg.KB.Dir == "" {
		return cli.Exit("knowledge base dir is required (--kb or kb.dir)", 1)
	}

	ctx, cancel := runContext(c)
	defer cancel()

	walk, err := s.walkOptions(c)
	if err != nil {
		return err
	}
	if err := walk.Prepare(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	k, err := kb.Open(kb.Options{Dir: s.cfg.KB.Dir, Name: s.cfg.KB.Name})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer k.Close()

	url := c.String("url")
	var (
		merr  *multierror.Error
		total int
	)
	for _, path := range c.Args().Slice() {
		progress, done := s.progress("importing " + path)
		n, err := internal.NewImporter(k, &walk, s.stats).OnProgress(progress).Import(ctx, path, url)
		done()
		total += n
		logrus.WithFields(logrus.Fields{"path": path, "imported": n}).Info("import done")
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", path, err))
			if walk.FailFast || ctx.Err() != nil {
				break
			}
		}
	}

	fmt.Fprintf(c.App.ErrWriter,
		"\n======= Import finished in %s =======\nFiles imported: %d\nErrors: %d\n",
		s.stats.Elapsed(), total, s.stats.Errors.Load(),
	)
	if err := merr.ErrorOrNil(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func kbLookupAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one <md5> argument", 1)
	}
	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.finish()

	ctx, cancel := runContext(c)
	defer cancel()

	eng, err := engine.Open(engine.Config{KBDir: s.cfg.KB.Dir, Debug: s.debug})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer eng.Close()

	md5hex := c.Args().First()
	rec, err := eng.LookupFile(ctx, md5hex)
	if errors.Is(err, kb.ErrNotFound) {
		return cli.Exit(fmt.Sprintf("%s: not in knowledge base", md5hex), 1)
	}
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return writeJSON(c, "", map[string]any{
		"md5":       md5hex,
		"file":      rec.File,
		"url":       rec.URL,
		"instances": rec.Instances,
	})
}

func kbStatsAction(c *cli.Context) error {
	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.finish()
	if s.cfg.KB.Dir == "" {
		return cli.Exit("knowledge base dir is required (--kb or kb.dir)", 1)
	}

	ctx, cancel := runContext(c)
	defer cancel()

	k, err := kb.Open(kb.Options{Dir: s.cfg.KB.Dir, ReadOnly: true})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer k.Close()

	st, err := k.Stats(ctx)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Fprintf(c.App.Writer, "Name: %s\nCreated: %s\nFiles: %d\nSnippet postings: %d\nLSM size: %d bytes\nValue log size: %d bytes\n",
		st.Name, st.Created.Format("2006-01-02 15:04:05"), st.Files, st.Postings, st.LSMSize, st.VLogSize)
	return nil
}
