package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/thumbnailer/internal/api"
	"github.com/andresuchdata/thumbnailer/internal/api/handlers"
	"github.com/andresuchdata/thumbnailer/internal/config"
	"github.com/andresuchdata/thumbnailer/internal/domain"
	"github.com/andresuchdata/thumbnailer/internal/event"
	"github.com/andresuchdata/thumbnailer/internal/journal"
	"github.com/andresuchdata/thumbnailer/internal/lambda"
	"github.com/andresuchdata/thumbnailer/internal/ledger"
	"github.com/andresuchdata/thumbnailer/internal/pipeline"
	"github.com/andresuchdata/thumbnailer/internal/storage"
	"github.com/andresuchdata/thumbnailer/pkg/logger"
)

func lambdaCommand() *cli.Command {
	return &cli.Command{
		Name:  "lambda",
		Usage: "Run as an AWS Lambda function handling S3 notifications",
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			h := lambda.NewHandler(func() (lambda.Invoker, error) {
				rt, err := bootstrap(context.Background(), cfg)
				if err != nil {
					return nil, err
				}
				return rt.orch, nil
			})
			logger.Log.Info().Str("driver", cfg.Storage.Driver).Msg("starting lambda runtime")
			lambda.Start(h)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the bucket notification webhook",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "port",
				Usage: "Listen port (overrides SERVER_PORT)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			if c.IsSet("port") {
				cfg.Server.Port = c.String("port")
			}

			rt, err := bootstrap(c.Context, cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			if cfg.Server.Mode == "debug" {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			services := &api.Services{Invoker: rt.orch, Gatherer: rt.registry}
			if rt.journal != nil {
				services.Runs = rt.journal
			}

			srv := &http.Server{
				Addr:         ":" + cfg.Server.Port,
				Handler:      api.NewRouter(services, cfg.Server.AllowedOrigins),
				ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
				WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-quit:
			}
			logger.Log.Info().Msg("Shutting down server...")

			// In-flight invocations get until the invocation timeout to finish.
			grace := cfg.App.InvocationTimeout()
			if grace < 5*time.Second {
				grace = 5 * time.Second
			}
			ctx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}

			logger.Log.Info().Msg("Server exiting")
			return nil
		},
	}
}

func processCommand() *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "Replay notification documents from files, one invocation per file",
		ArgsUsage: "<event.json>...",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Number of invocations to run at once",
				Value: 4,
			},
			&cli.StringFlag{
				Name:  "seed-dir",
				Usage: "With the memory driver, load each source object from this directory by key",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("at least one event file is required", 2)
			}

			jobs, err := readJobs(c.Args().Slice())
			if err != nil {
				return err
			}

			rt, err := bootstrap(c.Context, config.Load())
			if err != nil {
				return err
			}
			defer rt.close()

			if dir := c.String("seed-dir"); dir != "" {
				mem, ok := rt.store.(*storage.MemoryStore)
				if !ok {
					return cli.Exit("--seed-dir requires the memory storage driver", 2)
				}
				if err := seedSources(mem, dir, jobs); err != nil {
					return err
				}
			}

			results, summary, err := pipeline.NewWorker(rt.orch, c.Int("concurrency")).ProcessBatch(c.Context, jobs)

			enc := json.NewEncoder(c.App.Writer)
			for i, res := range results {
				if res == nil {
					continue
				}
				if encErr := enc.Encode(struct {
					File string `json:"file"`
					handlers.ResultResponse
				}{jobs[i].Name, handlers.NewResultResponse(res)}); encErr != nil {
					return encErr
				}
			}

			logger.Log.Info().
				Int("total", summary.Total).
				Int("succeeded", summary.Succeeded).
				Int("skipped", summary.Skipped).
				Int("failed", summary.Failed).
				Msg("replay finished")

			if err != nil {
				return err
			}
			if summary.Failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d invocations failed", summary.Failed, summary.Total), 1)
			}
			return nil
		},
	}
}

func readJobs(paths []string) ([]pipeline.Job, error) {
	jobs := make([]pipeline.Job, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read event file: %w", err)
		}
		jobs = append(jobs, pipeline.Job{Name: p, Payload: data})
	}
	return jobs, nil
}

// seedSources loads the source object of every parseable event from dir.
func seedSources(mem *storage.MemoryStore, dir string, jobs []pipeline.Job) error {
	for _, job := range jobs {
		n, err := event.Parse(job.Payload)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(n.Source.Key)))
		if err != nil {
			return fmt.Errorf("seed %s: %w", n.Source, err)
		}
		mem.Put(n.Source, storage.Object{Data: data})
	}
	return nil
}

func planCommand() *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "Print the destinations derived for a source object without touching storage",
		ArgsUsage: "<bucket> <key>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("usage: thumbnailer plan <bucket> <key>", 2)
			}

			policy, err := config.Load().Naming.Policy()
			if err != nil {
				return err
			}

			plan, err := policy.Derive(domain.NewObjectAddress(c.Args().Get(0), c.Args().Get(1)))
			if err != nil {
				return err
			}

			w := c.App.Writer
			fmt.Fprintf(w, "policy:   %s\n", policy)
			fmt.Fprintf(w, "source:   %s\n", plan.Source)
			fmt.Fprintf(w, "primary:  %s\n", plan.Primary)
			if plan.Archive != nil {
				fmt.Fprintf(w, "archive:  %s\n", plan.Archive)
			}
			fmt.Fprintf(w, "delete:   %t\n", plan.DeleteSource)
			return nil
		},
	}
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List recent invocations from the journal",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
			&cli.StringFlag{Name: "event-id", Usage: "Only runs for this event"},
		},
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			db, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
			if err != nil {
				return err
			}
			j := journal.New(db, 1)
			defer j.Close()

			var runs []journal.Run
			if id := c.String("event-id"); id != "" {
				runs, err = j.ByEvent(c.Context, id)
			} else {
				runs, err = j.Recent(c.Context, c.Int("limit"))
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(c.App.Writer)
			for _, r := range runs {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func ledgerCommand() *cli.Command {
	return &cli.Command{
		Name:  "ledger",
		Usage: "Manage the duplicate-delivery ledger",
		Subcommands: []*cli.Command{
			{
				Name:  "reset",
				Usage: "Forget every processed event so redeliveries run again",
				Action: func(c *cli.Context) error {
					cfg := config.Load().Ledger
					if !cfg.Enabled {
						return cli.Exit("ledger is disabled (LEDGER_ENABLED=false)", 2)
					}
					l, err := ledger.New(cfg)
					if err != nil {
						return err
					}
					defer l.Close()

					if err := l.Reset(c.Context); err != nil {
						return err
					}
					logger.Log.Info().Msg("ledger cleared")
					return nil
				},
			},
		},
	}
}
