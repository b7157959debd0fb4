// Package cli implements the stepsaga command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fortressi/stepsaga"
	"github.com/fortressi/stepsaga/internal/config"
	"github.com/fortressi/stepsaga/internal/logging"
	"github.com/fortressi/stepsaga/order"
	"github.com/fortressi/stepsaga/redisstore"
)

// app carries what PersistentPreRunE prepares for the subcommands.
type app struct {
	configPath  string
	showMetrics bool

	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *stepsaga.PrometheusMetrics
}

// NewRootCommand builds the stepsaga command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "stepsaga",
		Short: "stepsaga runs work items through compensating step sequences",
		Long: `stepsaga executes ordered steps against a work item. When a step fails,
the steps that already succeeded are compensated in reverse order.
Compensations that fail on every retry are written to a dead letter store.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVar(&a.showMetrics, "metrics", false, "print a metrics summary after the run")

	root.AddCommand(
		newOrderCommand(a),
		newBatchCommand(a),
		newCampaignCommand(a),
		newPlanCommand(a),
		newDeadLettersCommand(a),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics, err := stepsaga.NewPrometheusMetrics(stepsaga.PrometheusConfig{
		Namespace: cfg.Metrics.Namespace,
		Subsystem: cfg.Metrics.Subsystem,
		Buckets:   stepsaga.DefaultPrometheusConfig().Buckets,
	}, registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.registry = registry
	a.metrics = metrics
	return nil
}

// deadLetterStore opens the configured backend. The returned func releases it.
func (a *app) deadLetterStore() (stepsaga.DeadLetterStore, func(), error) {
	dl := a.cfg.DeadLetter
	switch dl.Backend {
	case "file":
		store, err := stepsaga.NewFileDeadLetterStore(dl.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "redis":
		opts := []redisstore.Option{redisstore.WithTTL(dl.Redis.TTL)}
		if dl.Redis.Prefix != "" {
			opts = append(opts, redisstore.WithPrefix(dl.Redis.Prefix))
		}
		store := redisstore.New(dl.Redis.Addr, dl.Redis.Password, dl.Redis.DB, opts...)
		return store, func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("failed to close redis client", zap.Error(err))
			}
		}, nil
	default:
		return stepsaga.NewMemoryDeadLetterStore(), func() {}, nil
	}
}

func (a *app) coordinatorOptions(store stepsaga.DeadLetterStore) []stepsaga.Option {
	return []stepsaga.Option{
		stepsaga.WithLogger(a.logger),
		stepsaga.WithMetrics(a.metrics),
		stepsaga.WithCompensationPolicy(a.cfg.Retry.Policy()),
		stepsaga.WithDeadLetterStore(store),
		stepsaga.WithStepTimeout(a.cfg.StepTimeout),
	}
}

func (a *app) pipeline() (*order.Pipeline, error) {
	catalog, err := a.cfg.Order.Stock()
	if err != nil {
		return nil, err
	}
	limit, err := a.cfg.Order.Limit()
	if err != nil {
		return nil, err
	}
	return order.NewPipeline(catalog, limit), nil
}

// printMetrics writes one line per sample. Histograms report their count and
// sum.
func (a *app) printMetrics(w io.Writer) error {
	if !a.showMetrics {
		return nil
	}
	families, err := a.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	fmt.Fprintln(w, "metrics:")
	for _, family := range families {
		for _, m := range family.GetMetric() {
			name := family.GetName() + renderLabels(m.GetLabel())
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				fmt.Fprintf(w, "  %s %g\n", name, m.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				fmt.Fprintf(w, "  %s %g\n", name, m.GetGauge().GetValue())
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				fmt.Fprintf(w, "  %s count=%d sum=%g\n", name, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}

func renderLabels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	labels := make([]string, 0, len(pairs))
	for _, p := range pairs {
		labels = append(labels, fmt.Sprintf("%s=%q", p.GetName(), p.GetValue()))
	}
	sort.Strings(labels)
	return "{" + strings.Join(labels, ",") + "}"
}
