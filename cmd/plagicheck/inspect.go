package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"PlagiCheck/internal/engine"
	"PlagiCheck/internal/models"
	"PlagiCheck/internal/wfp"
)

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Run the raw engine scan on one WFP entry and print what it found",
		ArgsUsage: "<file.wfp>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "md5",
				Usage: "MD5 of the entry to inspect (default: first entry)",
			},
		},
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one <file.wfp> argument", 1)
	}
	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.finish()

	ctx, cancel := runContext(c)
	defer cancel()

	entry, err := wfp.FindEntry(c.Args().First(), c.String("md5"))
	if err != nil {
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

	w := c.App.Writer
	in := engine.InputFromWFP(entry)
	fmt.Fprintf(w, "File: %s\n", entry.FilePath)
	fmt.Fprintf(w, "MD5: %s\n", entry.MD5Hex)
	fmt.Fprintf(w, "Total lines: %d\n", in.TotalLines)
	fmt.Fprintf(w, "Number of hashes: %d\n", len(in.Hashes))

	res := eng.Scan(ctx, in)
	fmt.Fprintln(w, "\n=== Scan Results ===")
	fmt.Fprintf(w, "Match Type: %s (%s)\n", res.MatchType, describe(res.MatchType))
	if res.ErrorMsg != "" {
		fmt.Fprintf(w, "Error: %s\n", res.ErrorMsg)
	}

	fmt.Fprintf(w, "\n=== Matching Files (%d) ===\n", res.MatchCount)
	for _, m := range res.Matches {
		parts := make([]string, 0, len(m.Ranges))
		for _, r := range m.Ranges {
			parts = append(parts, fmt.Sprintf("%d-%d", r.From, r.To))
		}
		fmt.Fprintf(w, "%s (hits: %d) - ranges: %s\n", m.FileMD5Hex, m.Hits, strings.Join(parts, ", "))
	}
	return nil
}

func describe(t models.MatchType) string {
	switch t {
	case models.MatchFile:
		return "the whole file is in the knowledge base"
	case models.MatchSnippet:
		return "parts of the file match known files"
	case models.MatchBinary:
		return "binary match"
	default:
		return "no match"
	}
}
