package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/logmet/logmet-go/agent/internal/config"
	"github.com/logmet/logmet-go/pkg/producer"
)

// TokenEnv is read when --token is not given.
const TokenEnv = "LOGMET_TOKEN"

// connFlags are the ingest and query settings shared by every subcommand.
// Flags given on the command line override the config file.
type connFlags struct {
	configPath    string
	endpoint      string
	port          int
	tenant        string
	token         string
	superTenant   bool
	bufferSize    int
	caFile        string
	certFile      string
	keyFile       string
	insecure      bool
	queryEndpoint string
	logLevel      string
}

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	return rootCmd(&connFlags{})
}

func rootCmd(f *connFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "logmetctl",
		Short:         "logmetctl sends records to and queries records from a Logmet service.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := config.ParseLevel(f.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "agent config file providing defaults for the flags below")
	pf.StringVar(&f.endpoint, "endpoint", "", "ingest host name")
	pf.IntVar(&f.port, "port", config.DefaultPort, "ingest port")
	pf.StringVarP(&f.tenant, "tenant", "t", "", "space or supertenant id")
	pf.StringVar(&f.token, "token", "", "tenant token (default $"+TokenEnv+")")
	pf.BoolVar(&f.superTenant, "supertenant", false, "log in as a supertenant")
	pf.IntVar(&f.bufferSize, "buffer-size", 0, "producer buffer size (0 keeps the default)")
	pf.StringVar(&f.caFile, "ca", "", "CA bundle used to verify the service")
	pf.StringVar(&f.certFile, "cert", "", "client certificate for mTLS")
	pf.StringVar(&f.keyFile, "key", "", "client key for mTLS")
	pf.BoolVar(&f.insecure, "insecure", false, "skip server certificate verification")
	pf.StringVar(&f.queryEndpoint, "query-endpoint", "", "search API host")
	pf.StringVar(&f.logLevel, "log-level", "warn", "debug | info | warn | error")

	cmd.AddCommand(
		sendCmd(f),
		queryCmd(f),
		flattenCmd(),
	)

	return cmd
}

// agentConfig merges the optional config file with the flags that were set.
func (f *connFlags) agentConfig(cmd *cobra.Command) (config.AgentConfig, error) {
	var a config.AgentConfig
	if f.configPath != "" {
		cfg, err := config.Load(f.configPath)
		if err != nil {
			return a, err
		}
		a = cfg.Agent
	} else {
		a.Port = f.port
	}

	changed := cmd.Flags().Changed
	if changed("endpoint") {
		a.ServerEndpoint = f.endpoint
	}
	if changed("port") {
		a.Port = f.port
	}
	if changed("tenant") {
		a.TenantID = f.tenant
	}
	if changed("supertenant") {
		a.SuperTenant = f.superTenant
	}
	if changed("buffer-size") {
		a.BufferSize = f.bufferSize
	}
	if changed("ca") {
		a.TLS.CAFile = f.caFile
	}
	if changed("cert") {
		a.TLS.CertFile = f.certFile
	}
	if changed("key") {
		a.TLS.KeyFile = f.keyFile
	}
	if changed("insecure") {
		a.TLS.InsecureSkipVerify = f.insecure
	}
	if changed("query-endpoint") {
		a.QueryEndpoint = f.queryEndpoint
	}
	return a, nil
}

// token resolves the tenant token: flag, then $LOGMET_TOKEN, then the
// variable named by the config file.
func (f *connFlags) resolveToken(a config.AgentConfig) string {
	if f.token != "" {
		return f.token
	}
	if env := os.Getenv(TokenEnv); env != "" {
		return env
	}
	return a.Token()
}

func (f *connFlags) producerConfig(cmd *cobra.Command) (producer.Config, error) {
	a, err := f.agentConfig(cmd)
	if err != nil {
		return producer.Config{}, err
	}
	if a.ServerEndpoint == "" {
		return producer.Config{}, fmt.Errorf("an ingest endpoint is required (--endpoint or --config)")
	}
	pcfg, err := a.ProducerConfig()
	if err != nil {
		return producer.Config{}, err
	}
	pcfg.Token = f.resolveToken(a)
	pcfg.Logger = slog.Default()
	return pcfg, nil
}
