package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"secnews/internal/app"
	"secnews/internal/config"
	"secnews/internal/launchd"
	"secnews/internal/list"
	"secnews/internal/logging"
	"secnews/internal/rest"
	"secnews/internal/server"
	"secnews/internal/tools"
	"secnews/internal/version"
)

// globals holds the root flags, resolved once in Before.
type globals struct {
	configPath   string
	logFile      string
	verbose      bool
	storeBackend string
	storeDSN     string
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}

	var g globals
	cmd := &cli.Command{
		Name:    "secnews",
		Usage:   "Cached cybersecurity news from RSS feeds, served over MCP and HTTP",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "config file (default ~/.config/secnews/config.yaml)", Sources: cli.EnvVars("SECNEWS_CONFIG")},
			&cli.StringFlag{Name: "log-file", Usage: "append logs to this file instead of stderr", Sources: cli.EnvVars("SECNEWS_LOG_FILE")},
			&cli.BoolFlag{Name: "verbose", Usage: "log to stderr", Sources: cli.EnvVars("SECNEWS_VERBOSE")},
			&cli.StringFlag{Name: "store-backend", Usage: "override store.backend (sqlite, postgres, memory)", Sources: cli.EnvVars("SECNEWS_STORE_BACKEND")},
			&cli.StringFlag{Name: "store-dsn", Usage: "override store.dsn for the postgres backend", Sources: cli.EnvVars("SECNEWS_STORE_DSN")},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			g = globals{
				configPath:   c.String("config"),
				logFile:      c.String("log-file"),
				verbose:      c.Bool("verbose"),
				storeBackend: c.String("store-backend"),
				storeDSN:     c.String("store-dsn"),
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "Run MCP server on stdio",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(ctx, g, func(ctx context.Context, a *app.App) error {
						return server.Run(ctx, a.Service)
					})
				},
			},
			{
				Name:  "http",
				Usage: "Serve the REST API and MCP streamable HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "listen address (default from config: :8000)", Sources: cli.EnvVars("SECNEWS_HTTP_ADDR")},
					&cli.IntFlag{Name: "background-minutes", Usage: "refresh every N minutes in the background (default from config, 0 = off)", Value: -1},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(ctx, g, func(ctx context.Context, a *app.App) error {
						addr := a.Config.HTTPAddr
						if v := strings.TrimSpace(c.String("addr")); v != "" {
							addr = v
						}
						interval := a.Config.BackgroundRefresh
						if v := c.Int("background-minutes"); v >= 0 {
							interval = time.Duration(v) * time.Minute
						}
						if interval > 0 {
							go a.Coordinator.Run(ctx, interval)
						}
						return rest.Serve(ctx, addr, a.Service, a.Logger)
					})
				},
			},
			{
				Name:  "refresh",
				Usage: "Refresh the cache if it is stale",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "refetch even when the cache is fresh"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(ctx, g, func(ctx context.Context, a *app.App) error {
						return runRefresh(ctx, a, c.Bool("force"))
					})
				},
			},
			{
				Name:  "news",
				Usage: "Print cached news, refreshing first if stale",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "hours", Usage: "time window in hours (default: 24)", Value: tools.DefaultHours},
					&cli.StringSliceFlag{Name: "source", Usage: "only this source (repeatable)"},
					&cli.StringFlag{Name: "search", Usage: "text to look for in title or description"},
					&cli.StringFlag{Name: "sort", Usage: "newest or oldest", Value: "newest"},
					&cli.IntFlag{Name: "limit", Usage: "maximum number of items", Value: tools.DefaultLimit},
					&cli.BoolFlag{Name: "json", Usage: "print the JSON payload"},
					&cli.BoolFlag{Name: "markdown", Usage: "print markdown"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					p := tools.GetNewsParams{
						Hours:   c.Int("hours"),
						Sources: c.StringSlice("source"),
						Search:  c.String("search"),
						Sort:    c.String("sort"),
						Limit:   c.Int("limit"),
					}
					switch {
					case c.Bool("json"):
						p.ResponseFormat = string(tools.FormatJSON)
					case c.Bool("markdown"):
						p.ResponseFormat = string(tools.FormatMarkdown)
					}
					return withApp(ctx, g, func(ctx context.Context, a *app.App) error {
						return runNews(ctx, a, p)
					})
				},
			},
			{
				Name:  "sources",
				Usage: "List configured sources",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print the JSON payload"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig(g)
					if err != nil {
						return err
					}
					if c.Bool("json") {
						text, err := tools.SourcesText(cfg.Sources, tools.FormatJSON)
						if err != nil {
							return err
						}
						fmt.Println(text)
						return nil
					}
					list.Sources(os.Stdout, cfg.Sources)
					return nil
				},
			},
			{
				Name:  "stats",
				Usage: "Show cache statistics",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print the JSON payload"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					format := tools.FormatMarkdown
					if c.Bool("json") {
						format = tools.FormatJSON
					}
					return withApp(ctx, g, func(ctx context.Context, a *app.App) error {
						st, err := a.Service.GetStats(ctx)
						if err != nil {
							return err
						}
						text, err := tools.StatsText(st, format, a.Service.Now())
						if err != nil {
							return err
						}
						fmt.Println(text)
						return nil
					})
				},
			},
			{
				Name:  "config",
				Usage: "Manage the configuration file",
				Commands: []*cli.Command{
					{
						Name:  "init",
						Usage: "Write the effective configuration as YAML",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "force", Usage: "replace an existing file (a backup is kept)"},
							&cli.StringFlag{Name: "path", Usage: "target file (default: --config or ~/.config/secnews/config.yaml)"},
						},
						Action: func(ctx context.Context, c *cli.Command) error {
							return runConfigInit(g, c.String("path"), c.Bool("force"))
						},
					},
				},
			},
			{
				Name:  "schedule",
				Usage: "Refresh the cache periodically with launchd (macOS)",
				Commands: []*cli.Command{
					{
						Name:  "install",
						Usage: "Install the launchd agent",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "label", Value: launchd.DefaultLabel, Usage: "launchd label"},
							&cli.IntFlag{Name: "interval-minutes", Usage: "interval minutes (default: cache TTL)"},
							&cli.StringFlag{Name: "agent-log", Usage: "agent log file path (default ~/Library/Logs/secnews/refresh.log)"},
							&cli.StringFlag{Name: "plist", Usage: "custom plist path (default ~/Library/LaunchAgents/<label>.plist)"},
						},
						Action: func(ctx context.Context, c *cli.Command) error {
							return runScheduleInstall(g, c)
						},
					},
					{
						Name:  "uninstall",
						Usage: "Unload and remove the launchd agent",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "label", Value: launchd.DefaultLabel, Usage: "launchd label"},
							&cli.StringFlag{Name: "plist", Usage: "path to plist (default ~/Library/LaunchAgents/<label>.plist)"},
						},
						Action: func(ctx context.Context, c *cli.Command) error {
							if err := launchd.Uninstall(c.String("label"), c.String("plist")); err != nil {
								return err
							}
							fmt.Println("launchd agent unloaded and removed")
							return nil
						},
					},
					{
						Name:  "status",
						Usage: "Show whether the launchd agent is loaded",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "label", Value: launchd.DefaultLabel, Usage: "launchd label"},
						},
						Action: func(ctx context.Context, c *cli.Command) error {
							return runScheduleStatus(c.String("label"))
						},
					},
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(g globals) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, err
	}
	if v := strings.ToLower(strings.TrimSpace(g.storeBackend)); v != "" {
		cfg.StoreBackend = v
	}
	if v := strings.TrimSpace(g.storeDSN); v != "" {
		cfg.StoreDSN = v
	}
	return cfg, cfg.Validate()
}

// withApp loads the config, wires the pipeline and runs fn with it.
func withApp(ctx context.Context, g globals, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	logger, closeLog := logging.New(g.logFile, g.verbose)
	defer closeLog()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runRefresh(ctx context.Context, a *app.App, force bool) error {
	refresh := a.Coordinator.EnsureFresh
	if force {
		refresh = a.Coordinator.Refresh
	}
	out, err := refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Println(out.Summary(time.Now()))
	for _, f := range out.Failures {
		fmt.Printf("  %v\n", f)
	}
	if out.AllFailed {
		return cli.Exit("", 1)
	}
	return nil
}

func runNews(ctx context.Context, a *app.App, p tools.GetNewsParams) error {
	res, err := a.Service.GetNews(ctx, p)
	if err != nil {
		return err
	}
	if p.ResponseFormat != "" {
		text, err := res.Text()
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	}
	list.Print(os.Stdout, res.Items, res.Filter.Window, res.Note(), res.At)
	return nil
}

func runConfigInit(g globals, path string, force bool) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		path = g.configPath
	}
	if strings.TrimSpace(path) == "" {
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	if err := config.Write(path, cfg, force); err != nil {
		if errors.Is(err, config.ErrExists) {
			return fmt.Errorf("%w (use --force to replace it)", err)
		}
		return err
	}
	fmt.Printf("config written: %s\n", config.ExpandPath(path))
	return nil
}

func runScheduleInstall(g globals, c *cli.Command) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	exe, _ := os.Executable()
	if strings.TrimSpace(exe) == "" {
		return fmt.Errorf("cannot discover program path")
	}
	args := []string{"--verbose", "refresh", "--force"}
	if cfg.Path != "" {
		args = append([]string{"--config", cfg.Path}, args...)
	}
	interval := c.Int("interval-minutes")
	if interval <= 0 {
		interval = int(cfg.CacheTTL / time.Minute)
	}
	path, err := launchd.Install(launchd.Schedule{
		Label:           c.String("label"),
		IntervalMinutes: interval,
		ProgramPath:     exe,
		ProgramArgs:     args,
		LogPath:         c.String("agent-log"),
		PlistPath:       c.String("plist"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("launchd agent installed and loaded: %s (every %d minutes)\n", path, interval)
	return nil
}

func runScheduleStatus(label string) error {
	loaded, state := launchd.Status(label)
	fmt.Printf("%s: %s\n", label, state)
	if !loaded {
		return nil
	}
	if path, err := launchd.DefaultAgentPath(label); err == nil {
		if n, err := launchd.IntervalMinutes(path); err == nil {
			fmt.Printf("interval: %d minutes\n", n)
		}
	}
	return nil
}
