package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/jonwraymond/xpersist/cache"
	"github.com/jonwraymond/xpersist/config"
	"github.com/jonwraymond/xpersist/fingerprint"
	"github.com/jonwraymond/xpersist/health"
	"github.com/jonwraymond/xpersist/store"
)

var (
	errUnhealthy = errors.New("xpersist: cache is unhealthy")
	errAmbiguous = errors.New("xpersist: ambiguous fingerprint prefix")
	errNoArgs    = errors.New("xpersist: at least one fingerprint is required")
)

// minPrefix is the shortest fingerprint prefix accepted in place of a full
// fingerprint.
const minPrefix = 4

// openCache builds the cache from --config, then applies --cache-dir and
// --backend.
func openCache(ctx context.Context, cmd *cli.Command) (*cache.Cache, error) {
	override := func(c *config.Config) {
		if v := cmd.String("cache-dir"); v != "" {
			c.CacheDir = v
		}
		if v := cmd.String("backend"); v != "" {
			c.Backend = v
		}
	}
	var (
		cfg *config.Config
		err error
	)
	if path := cmd.String("config"); path != "" {
		cfg, err = config.Load(ctx, path, override)
	} else {
		cfg, err = config.Parse(ctx, nil, override)
	}
	if err != nil {
		return nil, err
	}
	return config.Open(ctx, cfg)
}

// resolveFingerprint accepts a full fingerprint, a bare hex digest, or a
// unique hex prefix of a stored entry.
func resolveFingerprint(ctx context.Context, c *cache.Cache, arg string) (fingerprint.Fingerprint, error) {
	if fp, err := fingerprint.Parse(arg); err == nil {
		return fp, nil
	}
	prefix := strings.TrimPrefix(strings.TrimSpace(arg), "sha256:")
	if len(prefix) < minPrefix {
		return "", fmt.Errorf("%w: %q", fingerprint.ErrInvalidFingerprint, arg)
	}
	entries, err := c.Entries(ctx)
	if err != nil {
		return "", err
	}
	var found []fingerprint.Fingerprint
	for _, e := range entries {
		if strings.HasPrefix(e.Fingerprint.Hex(), prefix) {
			found = append(found, e.Fingerprint)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: %s", store.ErrNotFound, prefix)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d entries", errAmbiguous, prefix, len(found))
	}
}

func lsCommand() *cli.Command {
	return &cli.Command{
		Name:  "ls",
		Usage: "list stored entries, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "only entries of this computation"},
			&cli.BoolFlag{Name: "json", Usage: "print entries as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := openCache(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			entries, err := c.Entries(ctx)
			if err != nil {
				return err
			}
			if name := cmd.String("name"); name != "" {
				entries = slices.DeleteFunc(entries, func(e store.Entry) bool { return e.Name != name })
			}
			slices.SortFunc(entries, func(a, b store.Entry) int { return b.CreatedAt.Compare(a.CreatedAt) })

			w := cmd.Root().Writer
			if cmd.Bool("json") {
				return writeJSON(w, entries)
			}
			printEntries(w, entries)
			return nil
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "show one entry",
		ArgsUsage: "<fingerprint>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the entry as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("%w: info takes exactly one", errNoArgs)
			}
			c, err := openCache(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			fp, err := resolveFingerprint(ctx, c, cmd.Args().First())
			if err != nil {
				return err
			}
			e, err := c.Lookup(ctx, fp)
			if err != nil {
				return err
			}
			w := cmd.Root().Writer
			if cmd.Bool("json") {
				return writeJSON(w, e)
			}
			printEntry(w, e)
			return nil
		},
	}
}

func rmCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "delete entries",
		ArgsUsage: "<fingerprint>...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return errNoArgs
			}
			c, err := openCache(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			w := cmd.Root().Writer
			for _, arg := range cmd.Args().Slice() {
				fp, err := resolveFingerprint(ctx, c, arg)
				if err != nil {
					return err
				}
				if err := c.Invalidate(ctx, fp); err != nil {
					return err
				}
				fmt.Fprintf(w, "removed %s\n", fp.Short())
			}
			return nil
		},
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "delete entries by age or name and sweep abandoned writes",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "older-than", Usage: "only entries created before now minus this"},
			&cli.StringFlag{Name: "name", Usage: "only entries of this computation"},
			&cli.BoolFlag{Name: "dry-run", Usage: "report without deleting"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := openCache(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			opts := cache.PruneOptions{
				OlderThan: cmd.Duration("older-than"),
				Name:      cmd.String("name"),
				DryRun:    cmd.Bool("dry-run"),
			}
			report, err := c.Prune(ctx, opts)
			w := cmd.Root().Writer
			if len(report.Removed) > 0 {
				printEntries(w, report.Removed)
			}
			var total int64
			for _, e := range report.Removed {
				total += e.StoredBytes
			}
			verb := "removed"
			if opts.DryRun {
				verb = "would remove"
			}
			fmt.Fprintf(w, "%s %d entries (%s), swept %d\n",
				verb, len(report.Removed), humanize.IBytes(uint64(total)), report.Swept)
			return err
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "check that the backend is reachable and within quota",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "probe", Usage: "also write, read back and delete a probe entry"},
			&cli.StringFlag{Name: "quota", Usage: "intended upper bound on stored bytes, such as 50GiB"},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "bound on each check"},
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var quota uint64
			if q := cmd.String("quota"); q != "" {
				n, err := humanize.ParseBytes(q)
				if err != nil {
					return fmt.Errorf("xpersist: invalid quota %q: %w", q, err)
				}
				quota = n
			}
			c, err := openCache(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			agg := health.NewAggregator(health.AggregatorConfig{Timeout: cmd.Duration("timeout")})
			agg.Register(health.NewStoreChecker(c.Backend(), health.StoreCheckerConfig{Probe: cmd.Bool("probe")}))
			agg.Register(health.NewUsageChecker(c.Backend(), health.UsageCheckerConfig{Quota: quota}))
			report := agg.Report(ctx)

			w := cmd.Root().Writer
			if cmd.Bool("json") {
				if err := report.WriteJSON(w); err != nil {
					return err
				}
			} else {
				printReport(w, report)
			}
			if !report.Healthy() {
				return errUnhealthy
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
