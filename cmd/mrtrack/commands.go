package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/starford/mrtrack/internal"
	"github.com/starford/mrtrack/internal/scanid"
	"github.com/starford/mrtrack/internal/scanservice"
)

func conventionFlag(name, usage string) *cli.StringFlag {
	return &cli.StringFlag{Name: name, Usage: usage + " (internal, site-issued, interchange)"}
}

func optionalConvention(cmd *cli.Command, name string) (scanid.Convention, error) {
	v := cmd.String(name)
	if v == "" {
		return 0, nil
	}
	return scanid.ParseConvention(v)
}

func parseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Parse labels or scan file names into their fields",
		ArgsUsage: "<raw>...",
		Flags: []cli.Flag{
			conventionFlag("convention", "Only try this convention"),
			&cli.StringFlag{Name: "kind", Usage: "subject or phantom"},
			&cli.BoolFlag{Name: "file", Usage: "Inputs are scan file names"},
			&cli.BoolFlag{Name: "archive", Usage: "Inputs are archive subject or experiment keys"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return errors.New("parse: at least one identifier is required")
			}
			conv, err := optionalConvention(cmd, "convention")
			if err != nil {
				return err
			}
			kind, err := scanid.ParseKind(cmd.String("kind"))
			if err != nil {
				return err
			}
			opts := []scanid.ParseOption{scanid.WithConvention(conv), scanid.WithKind(kind)}

			results := make([]parseResult, 0, cmd.NArg())
			failed := 0
			for _, raw := range cmd.Args().Slice() {
				var id scanid.Identifier
				switch {
				case cmd.Bool("file"):
					id, err = scanid.ParseFilename(raw, opts...)
				case cmd.Bool("archive"):
					id, err = scanid.ParseArchiveLabel(raw, opts...)
				default:
					id, err = scanid.Parse(raw, opts...)
				}
				if err != nil {
					failed++
				}
				results = append(results, newParseResult(raw, id, err))
			}

			if err := printParseResults(newPrinter(os.Stdout, cmd.Bool("json")), results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("parse: %d of %d identifiers failed", failed, len(results))
			}
			return nil
		},
	}
}

func printParseResults(p printer, results []parseResult) error {
	if p.json {
		return p.JSON(results)
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, identifierRow(r))
	}
	return p.Table(identifierHeaders, rows)
}

func translateCommand() *cli.Command {
	return &cli.Command{
		Name:      "translate",
		Usage:     "Translate a label into another convention using the study mapping tables",
		ArgsUsage: "<raw>",
		Flags: []cli.Flag{
			conventionFlag("to", "Target convention"),
			conventionFlag("from", "Source convention, detected when empty"),
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return errors.New("translate: exactly one identifier is required")
			}
			to, err := scanid.ParseConvention(cmd.String("to"))
			if err != nil {
				return fmt.Errorf("translate: --to: %w", err)
			}
			from, err := optionalConvention(cmd, "from")
			if err != nil {
				return fmt.Errorf("translate: --from: %w", err)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			studies, err := internal.Studies(cfg)
			if err != nil {
				return err
			}

			src, err := scanid.Parse(cmd.Args().First(), scanid.WithConvention(from))
			if err != nil {
				return err
			}
			out, err := studies.Translate(src, to)
			if err != nil {
				return err
			}

			p := newPrinter(os.Stdout, cmd.Bool("json"))
			if p.json {
				return p.JSON(map[string]scanid.Identifier{"source": src, "target": out})
			}
			return p.Table([]string{"CONVENTION", "LABEL"}, [][]string{
				{src.Convention().String(), src.String()},
				{out.Convention().String(), out.String()},
			})
		},
	}
}

func matchCommand() *cli.Command {
	return &cli.Command{
		Name:      "match",
		Usage:     "Report whether two labels name the same subject visit",
		ArgsUsage: "<a> <b>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "ignore", Usage: "Field to leave out of the comparison (repeatable)"},
			&cli.BoolFlag{Name: "canonical", Usage: "Translate both sides to Internal first (needs --config)"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 2 {
				return errors.New("match: exactly two identifiers are required")
			}
			ignore, err := scanservice.ParseIgnore(cmd.StringSlice("ignore"))
			if err != nil {
				return err
			}

			ids := make([]scanid.Identifier, 2)
			for i, raw := range cmd.Args().Slice() {
				if ids[i], err = scanid.Parse(raw); err != nil {
					return err
				}
			}
			if cmd.Bool("canonical") {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				studies, err := internal.Studies(cfg)
				if err != nil {
					return err
				}
				for i := range ids {
					if ids[i], err = studies.Canonical(ids[i]); err != nil {
						return err
					}
				}
			}

			res := scanservice.MatchResult{A: ids[0], B: ids[1], Match: scanid.Match(ids[0], ids[1], ignore...)}
			p := newPrinter(os.Stdout, cmd.Bool("json"))
			if p.json {
				return p.JSON(res)
			}
			return p.Table([]string{"A", "B", "MATCH"}, [][]string{
				{res.A.String(), res.B.String(), strconv.FormatBool(res.Match)},
			})
		},
	}
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Sync the incoming directory into the catalog once and exit",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// Logs go to stderr so stdout carries only the result.
			stats, err := internal.Ingest(ctx, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
			if err != nil {
				return err
			}

			p := newPrinter(os.Stdout, cmd.Bool("json"))
			if p.json {
				return p.JSON(stats)
			}
			return p.Table(
				[]string{"INGEST", "INDEXED", "UNCHANGED", "REJECTED", "REMOVED"},
				[][]string{{
					stats.IngestID,
					strconv.Itoa(stats.Indexed),
					strconv.Itoa(stats.Unchanged),
					strconv.Itoa(stats.Rejected),
					strconv.Itoa(stats.Removed),
				}},
				alignLeft, alignRight, alignRight, alignRight, alignRight,
			)
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve identifier tools over MCP on stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return internal.RunMCP(ctx, internal.WithConfig(cfg))
		},
	}
}
