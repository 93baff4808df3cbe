package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"emotrack-go/internal/api"
	"emotrack-go/internal/config"
	"emotrack-go/internal/crypto"
	"emotrack-go/internal/dataset"
	"emotrack-go/internal/logger"
	"emotrack-go/internal/pipeline"
	"emotrack-go/internal/queue"
)

var rootCmd = &cobra.Command{
	Use:          "emotrack",
	Short:        "EmoTrack emotion analysis and alerting service",
	SilenceUsage: true,
}

func main() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingress and the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("sweep-interval")
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return serve(ctx, a, interval)
			})
		},
	}
	serveCmd.Flags().Duration("sweep-interval", 24*time.Hour, "How often to enqueue the expired audio sweep (0 disables)")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "sweep-audio",
		Short: "Delete audio artifacts older than AUDIO_RETENTION_DAYS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				n, err := a.audio.SweepExpired(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired audio files\n", n)
				return nil
			})
		},
	})

	seedCmd := &cobra.Command{
		Use:   "seed <file.xlsx>",
		Short: "Submit the responses of a spreadsheet through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return seed(ctx, a, args[0])
			})
		},
	}
	rootCmd.AddCommand(seedCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "gen-key",
		Short: "Print a new ENCRYPTION_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		logger.New().WithError(err).Error("failed to load config")
		return err
	}
	log := logger.NewWith(cfg.Environment, cfg.LogLevel, os.Stdout)
	log.WithField("service", "emotrack-go").Info("starting")

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("startup failed")
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func serve(ctx context.Context, a *app, sweepInterval time.Duration) error {
	srv := api.New(api.Deps{
		Config:   a.cfg,
		Pipeline: a.orch,
		Audio:    a.audio,
		Store:    a.store,
		Engine:   a.engine,
		Sealer:   a.sealer,
	}, a.log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.pool().Run(ctx) })
	g.Go(func() error {
		return srv.Run(ctx, fmt.Sprintf(":%d", a.cfg.Port), 10*time.Second)
	})
	if sweepInterval > 0 {
		g.Go(func() error {
			scheduleSweeps(ctx, a, sweepInterval)
			return nil
		})
	}
	return g.Wait()
}

func scheduleSweeps(ctx context.Context, a *app, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := a.queue.Enqueue(ctx, queue.Job{Kind: queue.KindSweepAudio}); err != nil {
				a.log.WithError(err).Warn("could not schedule audio sweep")
			}
		}
	}
}

func seed(ctx context.Context, a *app, path string) error {
	rows, err := dataset.Load(path)
	if err != nil {
		return fmt.Errorf("load seed file: %w", err)
	}
	summary := dataset.Summarize(rows)
	a.log.WithField("rows", summary.Total).
		WithField("children", summary.Children).
		WithField("forced", summary.Forced).
		Info("seed file loaded")

	// An in-memory queue dies with this process, so its jobs run inline.
	mq, inline := a.queue.(*queue.MemoryQueue)
	var p *queue.Pool
	if inline {
		p = a.pool()
	}

	for _, r := range rows {
		taskID, responseID, err := a.orch.Submit(ctx, pipeline.Submission{
			ChildID:        r.ChildID,
			ChildName:      r.ChildName,
			Text:           r.Text,
			Emoji:          r.Emoji,
			ForceIntensity: r.ForceIntensity,
		})
		if err != nil {
			return fmt.Errorf("line %d: %w", r.Line, err)
		}
		a.log.WithField("line", r.Line).WithField("task_id", taskID).WithField("response_id", responseID).Debug("seed row queued")

		for inline && mq.Len() > 0 {
			job, err := mq.Dequeue(ctx)
			if err != nil {
				return err
			}
			_ = p.Dispatch(ctx, job)
		}
	}
	a.log.WithField("rows", len(rows)).WithField("inline", inline).Info("seed submitted")
	return nil
}
