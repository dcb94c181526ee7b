package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/OnslaughtSnail/rostra/internal/config"
	"github.com/OnslaughtSnail/rostra/internal/envload"
	"github.com/OnslaughtSnail/rostra/internal/logging"
	"github.com/OnslaughtSnail/rostra/internal/metrics"
	"github.com/OnslaughtSnail/rostra/internal/version"
	"github.com/OnslaughtSnail/rostra/kernel/broadcast"
	"github.com/OnslaughtSnail/rostra/kernel/debate"
	"github.com/OnslaughtSnail/rostra/kernel/model/providers"
	"github.com/OnslaughtSnail/rostra/kernel/runtime"
	"github.com/OnslaughtSnail/rostra/kernel/session/inmemory"
	"github.com/OnslaughtSnail/rostra/kernel/transcript"
	"github.com/OnslaughtSnail/rostra/kernel/transcript/sqlite"
)

// app is the wired debate engine shared by every mode.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	lineup   debate.Lineup
	archive  *sqlite.Store
	writer   *transcript.Writer
	runtime  *runtime.Runtime
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	loaded, err := envload.LoadNearest("")
	if err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, err
	}
	for _, path := range loaded {
		logger.Debug(ctx, "loaded env file", zap.String("path", path))
	}

	a := &app{cfg: cfg, logger: logger}
	if a.lineup, err = buildLineup(ctx, cfg); err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewMetrics(a.registry)

	if cfg.Transcript.Enabled {
		a.archive, err = sqlite.Open(cfg.Transcript.Path)
		if err != nil {
			return nil, err
		}
		a.writer = transcript.NewWriter(a.archive, transcript.WriterConfig{
			Logger:   logger,
			OnResult: a.metrics.TranscriptSaved,
		})
	}

	b := broadcast.New(broadcast.Config{
		HeartbeatInterval: cfg.Broadcast.Heartbeat(),
		SendTimeout:       cfg.Broadcast.SendTimeout.Duration(),
		Buffer:            cfg.Broadcast.Buffer,
		Logger:            logger,
		Observer:          a.metrics,
	})
	a.runtime, err = runtime.New(runtime.Config{
		Store:           inmemory.New(),
		Broadcaster:     b,
		Lineup:          a.lineup,
		MaxOutputTokens: cfg.Debate.MaxOutputTokens,
		PacingDelay:     cfg.Debate.Pacing(),
		MaxTurns:        cfg.Debate.MaxTurns,
		SubscriberWait:  cfg.Debate.SubscriberWait.Duration(),
		AllowBulkStop:   cfg.Server.AllowBulkStop,
		Transcript:      a.writer,
		Logger:          logger,
		Observer:        a.metrics,
	})
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	logger.Info(ctx, "debate engine ready",
		zap.String("version", version.String()),
		zap.String("speaker_a", a.lineup.A.Provider),
		zap.String("speaker_b", a.lineup.B.Provider),
		zap.Bool("transcripts", a.archive != nil),
	)
	return a, nil
}

func buildLineup(ctx context.Context, cfg *config.Config) (debate.Lineup, error) {
	factory := providers.NewFactory()
	for _, pc := range cfg.ProviderConfigs() {
		if pc.Headers == nil {
			pc.Headers = map[string]string{}
		}
		if _, ok := pc.Headers["User-Agent"]; !ok {
			pc.Headers["User-Agent"] = version.UserAgent()
		}
		if err := factory.Register(pc); err != nil {
			return debate.Lineup{}, err
		}
	}
	participant := func(speaker debate.Speaker, alias string) (debate.Participant, error) {
		llm, err := factory.NewByAlias(ctx, alias)
		if err != nil {
			return debate.Participant{}, err
		}
		pc, _ := factory.Config(alias)
		return debate.Participant{Speaker: speaker, LLM: llm, Provider: pc.Provider}, nil
	}
	a, err := participant(debate.SpeakerA, cfg.Debate.SpeakerA)
	if err != nil {
		return debate.Lineup{}, err
	}
	b, err := participant(debate.SpeakerB, cfg.Debate.SpeakerB)
	if err != nil {
		return debate.Lineup{}, err
	}
	lineup := debate.Lineup{A: a, B: b}
	return lineup, lineup.Validate()
}

// close stops sessions, then drains transcripts, then closes the archive.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.runtime != nil {
		if err := a.runtime.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("runtime shutdown: %w", err))
		}
	}
	if a.writer != nil {
		if err := a.writer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("transcript writer: %w", err))
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("transcript store: %w", err))
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
