package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mikecbrant/connectiv-portal/internal/awssdk"
	"github.com/mikecbrant/connectiv-portal/internal/awssdk/cognitoidp"
	"github.com/mikecbrant/connectiv-portal/internal/portal/authflow"
	flowerrs "github.com/mikecbrant/connectiv-portal/internal/portal/errors"
	"github.com/mikecbrant/connectiv-portal/internal/portal/helloapi"
	"github.com/mikecbrant/connectiv-portal/internal/portal/runtimeconfig"
	"github.com/mikecbrant/connectiv-portal/internal/portal/session"
	"github.com/mikecbrant/connectiv-portal/internal/utils/logging"
)

// cliConfig is the locally stored tool configuration, distinct from the
// runtime config document the portal publishes.
type cliConfig struct {
	// Base URL of the deployed portal; config.json is fetched from here.
	PortalURL string `yaml:"portalUrl"`
	// AWS region override; derived from the user pool ID when empty.
	Region string `yaml:"region,omitempty"`
	// Project name prefix, used by verify.
	Project string `yaml:"project,omitempty"`
}

func defaultConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(base, "connectiv", "config.yaml"), nil
}

type app struct {
	configPath string
	debug      bool
	pretty     bool

	cfg    cliConfig
	logger logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "connectiv",
		Short:         "Client for the Connectiv data portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := zerolog.WarnLevel
			if a.debug {
				level = zerolog.DebugLevel
			}
			a.logger = logging.NewZerolog(level, a.pretty)
			if a.configPath == "" {
				path, err := defaultConfigPath()
				if err != nil {
					return err
				}
				a.configPath = path
			}
			// configure writes the file; everything else reads it best-effort
			// and validates what it actually needs.
			if cmd.Name() != "configure" {
				a.loadConfigFile()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the tool config file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&a.pretty, "pretty", false, "human-readable log output")

	root.AddCommand(
		newConfigureCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newHelloCmd(a),
		newVerifyCmd(a),
	)
	return root
}

func (a *app) loadConfigFile() {
	b, err := os.ReadFile(a.configPath)
	if err != nil {
		a.logger.Debug("no tool config file", logging.Fields{"path": a.configPath})
		return
	}
	if err := yaml.Unmarshal(b, &a.cfg); err != nil {
		a.logger.Warn("tool config file is not valid YAML, ignoring", logging.Fields{"path": a.configPath, "error": err.Error()})
	}
}

// portalRuntime is the assembled client stack. Construction order is fixed:
// the runtime config fetch strictly precedes identity-provider construction,
// which precedes any machine operation.
type portalRuntime struct {
	config   runtimeconfig.Config
	provider *cognitoidp.Client
	store    *session.Store
	machine  *authflow.Machine
	hello    *helloapi.Client
}

func (a *app) buildPortal(ctx context.Context) (*portalRuntime, error) {
	if a.cfg.PortalURL == "" {
		return nil, fmt.Errorf("portal URL not configured; run `connectiv configure` first")
	}

	configURL := strings.TrimSuffix(a.cfg.PortalURL, "/") + "/config.json"
	loader := runtimeconfig.NewLoader(configURL, &http.Client{Timeout: 30 * time.Second}, a.logger)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s", flowerrs.MessageOf(err))
	}

	region := a.cfg.Region
	if region == "" {
		region = regionFromPoolID(cfg.UserPoolID)
	}
	awsCfg, err := awssdk.LoadDefault(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	cachePath, err := cognitoidp.DefaultCachePath()
	if err != nil {
		return nil, err
	}
	provider := cognitoidp.New(cip.NewFromConfig(awsCfg), cfg.ClientID, cognitoidp.NewTokenCache(cachePath), a.logger)

	store := session.NewStore(a.logger)
	store.Recover(ctx, provider)

	machine := authflow.NewMachine(provider, store, a.logger)
	machine.AdoptRecovered()

	hello := helloapi.New(cfg.APIBaseURL, machine, &http.Client{Timeout: 8 * time.Minute}, a.logger)
	machine.SetResponseCache(hello)

	return &portalRuntime{config: cfg, provider: provider, store: store, machine: machine, hello: hello}, nil
}

// User pool IDs are of the form <region>_<suffix>.
func regionFromPoolID(poolID string) string {
	if i := strings.IndexByte(poolID, '_'); i > 0 {
		return poolID[:i]
	}
	return ""
}
