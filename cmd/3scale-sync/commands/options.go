package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/section6nz/3scale-sync/pkg/config"
	"github.com/section6nz/3scale-sync/pkg/naming"
	"github.com/section6nz/3scale-sync/pkg/telemetry"
	"github.com/section6nz/3scale-sync/pkg/threescale"
)

// Environment variables consulted when the tenant flags are not set.
const (
	envTenantURL   = "THREESCALE_URL"
	envAccessToken = "THREESCALE_ACCESS_TOKEN"
)

// tenantFlags are the flags shared by every command that talks to a
// tenant Admin API.
type tenantFlags struct {
	url      string
	token    string
	timeout  time.Duration
	insecure bool
}

func (f *tenantFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.url, "url", "u", "", "tenant admin URL (defaults to "+envTenantURL+")")
	cmd.Flags().StringVarP(&f.token, "access-token", "t", "", "admin API access token (defaults to "+envAccessToken+")")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "per-request timeout")
	cmd.Flags().BoolVar(&f.insecure, "insecure", false, "skip TLS certificate verification")
}

// clientConfig resolves the tenant connection settings. Flags win over
// environment variables; a .env file in the working directory supplies
// the environment for local development.
func (f *tenantFlags) clientConfig(logger zerolog.Logger, observer func(method, path string, status int, duration time.Duration)) (*threescale.Config, error) {
	_ = godotenv.Load()

	url := f.url
	if url == "" {
		url = os.Getenv(envTenantURL)
	}
	token := f.token
	if token == "" {
		token = os.Getenv(envAccessToken)
	}
	if url == "" {
		return nil, fmt.Errorf("tenant URL not set: use --url or %s", envTenantURL)
	}
	if token == "" {
		return nil, fmt.Errorf("access token not set: use --access-token or %s", envAccessToken)
	}

	cfg := threescale.DefaultConfig(url, token)
	cfg.Timeout = f.timeout
	cfg.InsecureSkipVerify = f.insecure
	cfg.Logger = logger
	cfg.Observer = observer
	return cfg, nil
}

// loaderFlags are the flags shared by every command that loads
// configuration documents.
type loaderFlags struct {
	configs   []string
	configDir string
}

func (f *loaderFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.configs, "config", "c", nil, "configuration document (repeatable)")
	cmd.Flags().StringVarP(&f.configDir, "config-dir", "d", "", "directory to discover configuration documents in")
}

func (f *loaderFlags) load(ctx context.Context) ([]config.Document, error) {
	return config.NewLoader().Load(ctx, f.configs, f.configDir)
}

// watchPaths returns the filesystem paths watch mode observes.
func (f *loaderFlags) watchPaths() []string {
	paths := append([]string(nil), f.configs...)
	if f.configDir != "" {
		paths = append(paths, f.configDir)
	}
	return paths
}

// namingFlags override the derived-name templates.
type namingFlags struct {
	backend     string
	plan        string
	application string
}

func (f *namingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.backend, "backend-template", naming.DefaultBackendTemplate, "backend API name template")
	cmd.Flags().StringVar(&f.plan, "plan-template", naming.DefaultPlanTemplate, "application plan name template")
	cmd.Flags().StringVar(&f.application, "application-template", naming.DefaultApplicationTemplate, "default application name template")
}

func (f *namingFlags) namer() (*naming.Namer, error) {
	return naming.New(naming.Templates{
		Backend:     f.backend,
		Plan:        f.plan,
		Application: f.application,
	})
}

// newTelemetry builds the telemetry stack from the global logging flags.
// Metrics are enabled only when a listen address is given.
func newTelemetry(version, metricsAddr string) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = logLevel
	cfg.Logging.Format = logFormat
	cfg.Logging.Output = "stderr"
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsAddr
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, err
	}
	tel.Events.Subscribe(telemetry.LogSubscriber(tel.Logger), nil)
	return tel, nil
}

// runUser names the initiator recorded on the run.
func runUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "unknown"
}
