package cli

import (
	"context"
	"io"
	"strings"

	"github.com/sleepsync/sleepsync/internal/auth"
	"github.com/sleepsync/sleepsync/internal/batch"
	"github.com/sleepsync/sleepsync/internal/collector"
	"github.com/sleepsync/sleepsync/internal/config"
	"github.com/sleepsync/sleepsync/internal/export"
	"github.com/sleepsync/sleepsync/internal/logging"
	"github.com/sleepsync/sleepsync/internal/metrics"
	"github.com/sleepsync/sleepsync/internal/notify"
	"github.com/sleepsync/sleepsync/internal/store"
	"github.com/sleepsync/sleepsync/internal/upload"
	"github.com/spf13/cobra"
)

// app holds what every command builds from the configuration.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	out    io.Writer
	client *collector.Client
}

// loadApp reads the configuration named by --config. A missing file is
// fine; the environment alone can configure a CI run.
func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.NewLoader(globalFlags.Config, config.AllowMissing()).Load()
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	if globalFlags.Verbose {
		level = logging.LevelDebug
	}
	logger := logging.NewLogger(logging.WithLevel(level), logging.WithOutput(cmd.ErrOrStderr()))

	client := collector.NewClient(
		collector.WithTimeout(cfg.Provider.Timeout),
		collector.WithUTLS(cfg.Provider.UseUTLS),
	)

	return &app{cfg: cfg, logger: logger, out: cmd.OutOrStdout(), client: client}, nil
}

func (a *app) lifecycle() *auth.Lifecycle {
	p := a.cfg.Provider
	return auth.NewLifecycle(a.client, auth.Endpoints{
		TokenURL:     p.TokenURL,
		ProfileURL:   p.ProfileURL,
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RefreshScope: p.RefreshScope,
	}, auth.WithLogger(a.logger.With("component", "auth")))
}

func (a *app) fetcher(m *metrics.Metrics) *collector.SleepFetcher {
	rl := a.cfg.Fetch.RateLimit
	opts := []collector.FetcherOption{
		collector.WithPageLimit(a.cfg.Fetch.PageLimit),
		collector.WithBackoff(collector.Backoff{Base: rl.BaseBackoff, Max: rl.MaxBackoff, MaxRetries: rl.MaxRetries}),
		collector.WithLogger(a.logger.With("component", "collector")),
	}
	if m != nil {
		opts = append(opts, collector.WithRateLimitHook(m.ObserveRateLimit))
	}
	return collector.NewSleepFetcher(a.client, a.cfg.Provider.SleepURL, opts...)
}

func (a *app) writer() *export.Writer {
	return export.NewWriter(a.cfg.Export, export.WithLogger(a.logger.With("component", "export")))
}

func (a *app) authorizer(lc *auth.Lifecycle) *auth.Authorizer {
	p := a.cfg.Provider
	exchanger := auth.NewExchanger(auth.ExchangerConfig{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURI,
		AuthURL:      p.AuthURL,
		TokenURL:     p.TokenURL,
		Scopes:       p.Scopes,
	}, a.client.HTTPClient())
	codes := auth.NewCodeProvider(p.RedirectURI, a.cfg.Callback.Listen, a.cfg.Callback.Timeout, a.out, a.logger)
	return auth.NewAuthorizer(exchanger, codes, lc)
}

// credentialStore opens the multi-user store, or the single-user file
// presented as a one-entry set.
func (a *app) credentialStore(single bool) (store.CredentialStore, error) {
	if single {
		return store.NewSingleSetStore(store.NewSingleFileStore(a.cfg.Credentials.SinglePath)), nil
	}
	return store.Open(a.cfg.Credentials, a.logger.With("component", "store"))
}

func (a *app) newMetrics() *metrics.Metrics {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	return metrics.NewMetrics(a.cfg.Metrics.Namespace)
}

// runner wires the batch runner with the optional metrics, upload and
// notification hooks.
func (a *app) runner(ctx context.Context, st store.CredentialStore, m *metrics.Metrics) (*batch.Runner, error) {
	opts := []batch.Option{
		batch.WithLogger(a.logger.With("component", "batch")),
		batch.WithUserDelay(a.cfg.Fetch.UserDelay),
		batch.WithDays(a.cfg.Fetch.DaysBack, a.cfg.Fetch.UpdateDaysBack),
	}
	if m != nil {
		opts = append(opts, batch.WithRecorder(m))
	}
	if a.cfg.Upload.Enabled {
		u, err := upload.New(ctx, a.cfg.Upload, a.logger.With("component", "upload"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, batch.WithUploader(u))
	}
	if a.cfg.Telegram.Enabled {
		n, err := notify.NewTelegram(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID)
		if err != nil {
			return nil, err
		}
		opts = append(opts, batch.WithNotifier(n, a.cfg.Telegram.OnFailure))
	}
	return batch.NewRunner(st, a.lifecycle(), a.fetcher(m), a.writer(), opts...), nil
}

// writeMetrics flushes the textfile; failures are logged, the run result
// stands.
func (a *app) writeMetrics(m *metrics.Metrics) {
	if m == nil {
		return
	}
	if err := m.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("writing metrics textfile failed", "path", a.cfg.Metrics.Textfile, "error", err)
	}
}

func normalizeEmails(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range in {
		for _, e := range strings.Split(raw, ",") {
			e = strings.TrimSpace(e)
			if e == "" || seen[e] {
				continue
			}
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}
