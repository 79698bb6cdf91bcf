package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tronos/internal"
	"github.com/starford/tronos/internal/image"
	"github.com/starford/tronos/internal/session"
	"github.com/starford/tronos/internal/snapshot"
	"github.com/starford/tronos/internal/update"
	"github.com/starford/tronos/internal/vfs"
	pkgconfig "github.com/starford/tronos/pkg/config"
)

func buildApp(cmd *cli.Command) (*internal.App, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return internal.NewApp(internal.WithConfig(cfg))
}

func runUpdate(ctx context.Context, cmd *cli.Command) error {
	app, err := buildApp(cmd)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer app.Close()

	sess, err := app.ResolveSession(cmd.String("session"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("session: %v", err), 1)
	}
	fs, err := app.OpenFS(sess)
	if err != nil {
		return cli.Exit(fmt.Sprintf("filesystem unavailable: %v", err), 1)
	}

	switch {
	case cmd.Bool("history"):
		if log, ok := app.Engine.History(fs); ok {
			fmt.Print(log)
		} else {
			fmt.Println("No update history.")
		}
		return nil

	case cmd.Bool("rollback"):
		rec, err := app.Engine.Rollback(sess.ID)
		if err != nil {
			return cli.Exit("Nothing to roll back to: no pre-update snapshot found.", 1)
		}
		_, img, err := app.Snapshots.Get(sess.ID, rec.Name)
		if err != nil {
			return cli.Exit(fmt.Sprintf("rollback: %v", err), 1)
		}
		if err := app.Sessions.Restore(sess, fs, img); err != nil {
			return cli.Exit(fmt.Sprintf("rollback: %v", err), 1)
		}
		fmt.Printf("Rolled back to snapshot %s (taken %s).\n",
			rec.Name, rec.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil

	case cmd.String("watch") != "":
		return watchTarget(ctx, cmd.String("watch"), app, sess, fs)
	}

	target := update.Target()
	base := app.Engine.LoadBase(sess.ID)
	analysis := app.Engine.Analyze(fs, target, base)

	if !cmd.Bool("apply") || cmd.Bool("dry-run") {
		fmt.Print(update.ReportPreview(analysis))
		return nil
	}

	strategy, err := chooseStrategy(cmd, app.Config.Update.DefaultStrategy)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	var prompt update.PromptFunc
	if strategy == update.StrategyInteractive && stdinIsTerminal() {
		prompt = promptOverwrite
	}

	res, err := app.Engine.Apply(fs, sess, target, analysis, strategy, prompt)
	if err != nil {
		return cli.Exit(fmt.Sprintf("apply: %v", err), 1)
	}
	fmt.Print(update.ReportApply(res))
	return nil
}

// watchTarget re-analyzes the session against an exported image file
// whenever it changes on disk, until interrupted.
func watchTarget(ctx context.Context, file string, app *internal.App, sess *session.Session, fs *vfs.FS) error {
	watchCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(watchCtx)
	g.Go(func() error {
		return update.WatchTarget(gCtx, file, app.Logger, func(img *image.DiskImage) {
			analysis := app.Engine.Analyze(fs, img, app.Engine.LoadBase(sess.ID))
			fmt.Printf("--- %s changed ---\n%s", file, update.ReportPreview(analysis))
		})
	})
	return g.Wait()
}

func snapshotOpts(description string) snapshot.CreateOptions {
	return snapshot.CreateOptions{Description: description}
}

func chooseStrategy(cmd *cli.Command, fallback string) (update.Strategy, error) {
	picked := make([]update.Strategy, 0, 3)
	if cmd.Bool("skip") {
		picked = append(picked, update.StrategySkip)
	}
	if cmd.Bool("overwrite") {
		picked = append(picked, update.StrategyOverwrite)
	}
	if cmd.Bool("interactive") {
		picked = append(picked, update.StrategyInteractive)
	}
	switch len(picked) {
	case 0:
		return update.Strategy(fallback), nil
	case 1:
		return picked[0], nil
	default:
		return "", fmt.Errorf("--skip, --overwrite and --interactive are mutually exclusive")
	}
}

func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func promptOverwrite(path string) bool {
	fmt.Printf("Overwrite %s with the target version? [y/N] ", path)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func main() {
	cmd := &cli.Command{
		Name:  "tronos",
		Usage: "Persistent multi-session virtual filesystem with timewarp versioning, snapshots and default-image updates",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("TRONOS_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			updateCommand(),
			sessionsCommand(),
			snapshotsCommand(),
			timewarpCommand(),
			exportCommand(),
			importCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:   "update",
		Usage:  "Reconcile the session filesystem against the latest default image",
		Action: runUpdate,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Usage: "Session id (defaults to the most recent)"},
			&cli.BoolFlag{Name: "apply", Usage: "Perform the update instead of previewing"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Preview only, even with --apply"},
			&cli.BoolFlag{Name: "skip", Usage: "Keep your version of conflicting files"},
			&cli.BoolFlag{Name: "overwrite", Usage: "Replace conflicting files with the target version"},
			&cli.BoolFlag{Name: "interactive", Usage: "Decide each conflicting file at a prompt"},
			&cli.BoolFlag{Name: "rollback", Usage: "Restore the most recent pre-update snapshot"},
			&cli.BoolFlag{Name: "history", Usage: "Show the update log"},
			&cli.StringFlag{Name: "watch", Usage: "Watch an exported image file and re-run the analysis on change"},
		},
	}
}

func sessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Manage sessions",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List all sessions",
				Action: func(_ context.Context, cmd *cli.Command) error {
					app, err := buildApp(cmd)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer app.Close()
					sessions, err := app.Sessions.List()
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					if len(sessions) == 0 {
						fmt.Println("No sessions.")
						return nil
					}
					for _, s := range sessions {
						fmt.Printf("%s  %-16s last active %s\n",
							s.ID, s.Name, s.LastAccess.Format("2006-01-02 15:04:05"))
					}
					return nil
				},
			},
			{
				Name:  "new",
				Usage: "Create a session seeded from the default image",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Value: "session", Usage: "Session name"},
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					app, err := buildApp(cmd)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer app.Close()
					sess, err := app.Sessions.Create(cmd.String("name"), update.Target())
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fmt.Printf("Created session %s (%s).\n", sess.Name, sess.ID)
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a session and everything it owns",
				ArgsUsage: "<session-id>",
				Action: func(_ context.Context, cmd *cli.Command) error {
					id := cmd.Args().First()
					if id == "" {
						return cli.Exit("session id required", 1)
					}
					app, err := buildApp(cmd)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer app.Close()
					if err := app.Sessions.Delete(id); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fmt.Printf("Deleted session %s.\n", id)
					return nil
				},
			},
		},
	}
}

func snapshotsCommand() *cli.Command {
	sessionFlag := &cli.StringFlag{Name: "session", Usage: "Session id (defaults to the most recent)"}
	return &cli.Command{
		Name:  "snapshots",
		Usage: "Manage whole-session snapshots",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List a session's snapshots",
				Flags: []cli.Flag{sessionFlag},
				Action: func(_ context.Context, cmd *cli.Command) error {
					app, err := buildApp(cmd)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer app.Close()
					sess, err := app.ResolveSession(cmd.String("session"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					recs, err := app.Snapshots.List(sess.ID)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					if len(recs) == 0 {
						fmt.Println("No snapshots.")
						return nil
					}
					for _, rec := range recs {
						kind := "manual"
						if rec.IsAuto {
							kind = "auto"
						}
						fmt.Printf("%-32s %-6s %s  %s\n",
							rec.Name, kind, rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Description)
					}
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Capture the session now under a name",
				Flags: []cli.Flag{
					sessionFlag,
					&cli.StringFlag{Name: "name", Required: true, Usage: "Snapshot name"},
					&cli.StringFlag{Name: "description", Usage: "Free-form description"},
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					app, err := buildApp(cmd)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer app.Close()
					sess, err := app.ResolveSession(cmd.String("session"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fs, err := app.OpenFS(sess)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					name := cmd.String("name")
					img := image.Capture(name, fs.Tree(), sess.Info())
					if err := app.Snapshots.Create(sess.ID, name, img, snapshotOpts(cmd.String("description"))); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fmt.Printf("Snapshot %s created.\n", name)
					return nil
				},
			},
			{
				Name:      "restore",
				Usage:     "Replace the live session with a snapshot's contents",
				ArgsUsage: "<name>",
				Flags:     []cli.Flag{sessionFlag},
				Action: func(_ context.Context, cmd *cli.Command) error {
					name := cmd.Args().First()
					if name == "" {
						return cli.Exit("snapshot name required", 1)
					}
					app, err := buildApp(cmd)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer app.Close()
					sess, err := app.ResolveSession(cmd.String("session"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fs, err := app.OpenFS(sess)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					_, img, err := app.Snapshots.Get(sess.ID, name)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					if err := app.Sessions.Restore(sess, fs, img); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fmt.Printf("Restored snapshot %s.\n", name)
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a snapshot",
				ArgsUsage: "<name>",
				Flags:     []cli.Flag{sessionFlag},
				Action: func(_ context.Context, cmd *cli.Command) error {
					name := cmd.Args().First()
					if name == "" {
						return cli.Exit("snapshot name required", 1)
					}
					app, err := buildApp(cmd)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer app.Close()
					sess, err := app.ResolveSession(cmd.String("session"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					if err := app.Snapshots.Delete(sess.ID, name); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fmt.Printf("Deleted snapshot %s.\n", name)
					return nil
				},
			},
		},
	}
}

func timewarpCommand() *cli.Command {
	sessionFlag := &cli.StringFlag{Name: "session", Usage: "Session id (defaults to the most recent)"}
	return &cli.Command{
		Name:  "timewarp",
		Usage: "Per-file version history",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List recorded versions of a file",
				ArgsUsage: "<path>",
				Flags:     []cli.Flag{sessionFlag},
				Action: func(_ context.Context, cmd *cli.Command) error {
					path := cmd.Args().First()
					if path == "" {
						return cli.Exit("file path required", 1)
					}
					app, err := buildApp(cmd)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer app.Close()
					sess, err := app.ResolveSession(cmd.String("session"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					recs, err := app.Timewarp.ListVersions(sess.FSNamespace, path)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					if len(recs) == 0 {
						fmt.Println("No versions recorded.")
						return nil
					}
					for i, rec := range recs {
						fmt.Printf("%3d  %s  %-12s %s\n",
							i, rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Author, rec.Message)
					}
					return nil
				},
			},
			{
				Name:      "revert",
				Usage:     "Write a historical version back to the live file",
				ArgsUsage: "<path> <version-index>",
				Flags:     []cli.Flag{sessionFlag},
				Action: func(_ context.Context, cmd *cli.Command) error {
					path := cmd.Args().Get(0)
					idxArg := cmd.Args().Get(1)
					if path == "" || idxArg == "" {
						return cli.Exit("usage: timewarp revert <path> <version-index>", 1)
					}
					idx, err := strconv.Atoi(idxArg)
					if err != nil {
						return cli.Exit("version index must be a number", 1)
					}
					app, err := buildApp(cmd)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer app.Close()
					sess, err := app.ResolveSession(cmd.String("session"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fs, err := app.OpenFS(sess)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					if err := app.Timewarp.Revert(fs, sess.FSNamespace, path, idx); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					if err := fs.Sync(); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fmt.Printf("Reverted %s to version %d.\n", path, idx)
					return nil
				},
			},
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the session as a disk-image file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Usage: "Session id (defaults to the most recent)"},
			&cli.StringFlag{Name: "out", Value: "tronos-image.json", Usage: "Output file"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			app, err := buildApp(cmd)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer app.Close()
			sess, err := app.ResolveSession(cmd.String("session"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fs, err := app.OpenFS(sess)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			img := image.Capture(sess.Name, fs.Tree(), sess.Info())
			data, err := img.Encode()
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			out := cmd.String("out")
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Printf("Exported %d entries to %s.\n", len(img.Files), out)
			return nil
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Replace the session with a disk-image file's contents",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Usage: "Session id (defaults to the most recent)"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			file := cmd.Args().First()
			if file == "" {
				return cli.Exit("image file required", 1)
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			img, err := image.Decode(data)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			app, err := buildApp(cmd)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer app.Close()
			sess, err := app.ResolveSession(cmd.String("session"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fs, err := app.OpenFS(sess)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if err := app.Sessions.Restore(sess, fs, img); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Printf("Imported %s into session %s.\n", img.Name, sess.Name)
			return nil
		},
	}
}
