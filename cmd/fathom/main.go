// Package main is the fathom application entrypoint.
package main

import (
	"context"
	"fmt"

	"fathom/internal"
	"fathom/internal/app/apps"
	"fathom/internal/app/cfg"
	"fathom/internal/pkg/log"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CLI command definitions.
var (
	logger logrus.FieldLogger = logrus.StandardLogger()

	flagAddr       string
	flagWSAddr     string
	flagName       string
	flagContentDir string

	rootCmd = &cobra.Command{
		Use: "fathom",
		RunE: func(*cobra.Command, []string) error {
			return nil
		},
	}

	clientCmd = &cobra.Command{
		Use:   "client [greeting]",
		Short: "Joins a fathom server.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCmd,
	}

	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Hosts a fathom server.",
		RunE:  runCmd,
	}
)

func newApp(_ context.Context, cmd *cobra.Command, args []string) (apps.App, []string, error) {
	switch cmd.Name() {
	case "client":
		addr := cfg.AddrFromEnv()
		if flagAddr != "" {
			addr = cfg.NewAddrCfg(flagAddr)
		}
		name := cfg.NameFromEnv()
		if flagName != "" {
			name = cfg.NewNameCfg(flagName)
		}
		app, err := apps.NewClientApp(addr, name, cfg.PasswordFromEnv(), cfg.VersionFromEnv())
		if err != nil {
			return nil, nil, errors.Wrap(err, "new client app failed")
		}
		return app, args, nil
	case "server":
		addr := cfg.AddrFromEnv()
		if flagAddr != "" {
			addr = cfg.NewAddrCfg(flagAddr)
		}
		app, err := apps.NewServerApp(addr, cfg.PasswordFromEnv(), cfg.VersionFromEnv())
		if err != nil {
			return nil, nil, errors.Wrap(err, "new server app failed")
		}
		if flagWSAddr != "" {
			app.WSAddr = flagWSAddr
		} else if internal.WSPort != 0 {
			app.WSAddr = fmt.Sprintf(":%d", internal.WSPort)
		}
		app.ContentDir = flagContentDir
		return app, args, nil
	default:
		return nil, nil, fmt.Errorf("unknown command: %s", cmd.Name())
	}
}

func runCmd(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := chainedCheck(
		ctx,
		envCheck,
	); err != nil {
		return errors.Wrap(err, "chained check failed")
	}
	app, args, err := newApp(cmd.Context(), cmd, args)
	if err != nil {
		return errors.Wrapf(err, "new %s app failed", cmd.Name())
	}
	return errors.Wrap(app.Run(ctx, args), "run app failed")
}

func envCheck(ctx context.Context) error {
	err := internal.ValidateEnv()
	if err != nil {
		return errors.Wrap(err, "validate env failed")
	}
	log.SetLogger(internal.LogLevel)
	return nil
}

func chainedCheck(ctx context.Context, checks ...func(context.Context) error) error {
	for _, check := range checks {
		err := check(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

func init() {
	for _, cmd := range []*cobra.Command{clientCmd, serverCmd} {
		cmd.Flags().StringVar(&flagAddr, "addr", "", "session address (host:port, or ws:// URL on the client)")
	}
	clientCmd.Flags().StringVar(&flagName, "name", "", "display name")
	serverCmd.Flags().StringVar(&flagWSAddr, "ws-addr", "", "websocket listen address")
	serverCmd.Flags().StringVar(&flagContentDir, "content-dir", "", "directory served over the file transfer channel")

	rootCmd.AddCommand(
		clientCmd,
		serverCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(errors.Wrap(err, "execute root command failed"))
	}
}
