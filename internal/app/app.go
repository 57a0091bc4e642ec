package app

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"casewatch/internal/casestore"
	"casewatch/internal/config"
	"casewatch/internal/gate"
	"casewatch/internal/health"
	"casewatch/internal/httpx"
	slacknotify "casewatch/internal/integrations/slack"
	"casewatch/internal/storage/sqlite"
)

var Version = "dev"

func Main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "casewatch",
		Short:         "Incremental frustration analysis and staged escalation for support cases",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		runCmd(),
		closeCmd(),
		resetCmd(),
		clearCmd(),
		statsCmd(),
		attentionCmd(),
		healthCmd(),
		historyCmd(),
		serveCmd(),
	)
	return root
}

type runNotifier interface {
	NotifyRun(result gate.RunResult) (bool, error)
}

// Runtime is everything a command needs, built once from config.
type Runtime struct {
	Cfg   config.Config
	Store *casestore.Store
	DB    *sql.DB
	Out   io.Writer

	now       func() time.Time
	newOracle oracleFactory
	notifier  runNotifier
}

// openRuntime loads config and opens the store. An unusable store is fatal
// before any case is touched.
func openRuntime(out io.Writer) (*Runtime, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return newRuntime(cfg, out)
}

func newRuntime(cfg config.Config, out io.Writer) (*Runtime, error) {
	applied := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf("Config loaded. Provider=%s Store=%s Gate1=%.1f/%.1f Gate2=%.0f Caps=%d/%d Timezone=%s ExternalHTTPTimeout=%s",
		cfg.LLMProvider, cfg.StoreBackend, cfg.Gate1AvgThreshold, cfg.Gate1PeakThreshold, cfg.Gate2Threshold,
		cfg.StageBCap, cfg.StageCCap, cfg.Timezone, applied)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", casestore.ErrStoreUnavailable, err)
	}
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: init database %s: %v", casestore.ErrStoreUnavailable, cfg.DBPath, err)
	}

	var persister casestore.Persister
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		persister = sqlite.NewDocumentStore(db, cfg.DBPath)
	default:
		persister = casestore.NewFilePersister(cfg.StorePath)
	}
	store, err := casestore.Open(persister)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("Case store opened at %s cases=%d", store.Location(), store.Metadata().TotalCases)

	rt := &Runtime{
		Cfg:       cfg,
		Store:     store,
		DB:        db,
		Out:       out,
		now:       time.Now,
		newOracle: buildOracle,
	}
	if cfg.SlackConfigured() {
		rt.notifier = slacknotify.New(slacknotify.Config{
			Token:          cfg.SlackBotToken,
			Channel:        cfg.SlackChannelID,
			AlertThreshold: cfg.SlackAlertThreshold,
			Contacts:       cfg.SlackEscalationContacts,
		}, slack.OptionHTTPClient(httpx.ExternalHTTPClient()))
	}
	return rt, nil
}

func (r *Runtime) Close() {
	if r.DB != nil {
		if err := r.DB.Close(); err != nil {
			log.Printf("WARNING: close database: %v", err)
		}
	}
}

func (r *Runtime) gateConfig() gate.Config {
	hp := health.DefaultParams()
	hp.CriticalThreshold = r.Cfg.HealthCriticalThreshold
	hp.CatastrophicThreshold = r.Cfg.HealthCatastrophicThreshold
	return gate.Config{
		Gate1AvgThreshold:  r.Cfg.Gate1AvgThreshold,
		Gate1PeakThreshold: r.Cfg.Gate1PeakThreshold,
		Gate2Threshold:     r.Cfg.Gate2Threshold,
		StageBCap:          r.Cfg.StageBCap,
		StageCCap:          r.Cfg.StageCCap,
		Health:             hp,
	}
}

// withRuntime adapts a command body that needs the store.
func withRuntime(fn func(cmd *cobra.Command, args []string, rt *Runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd, args, rt)
	}
}
