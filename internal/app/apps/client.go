package apps

import (
	"context"
	"strings"
	"time"

	"fathom/internal/pkg/chat"
	"fathom/internal/pkg/client"
	"fathom/internal/pkg/transport"
	"fathom/internal/pkg/validate"

	"github.com/pkg/errors"
)

// ClientAppCfg configures a ClientApp.
type ClientAppCfg interface {
	ApplyClientApp(*ClientApp) error
}

// ClientApp joins a session over UDP, or over a websocket when a ws:// or
// wss:// URL is given, and runs the session until it ends.
type ClientApp struct {
	Addr     string `validate:"required"`
	Name     string `validate:"required"`
	Password string
	Version  string
}

// NewClientApp creates a new ClientApp.
func NewClientApp(cfgs ...ClientAppCfg) (*ClientApp, error) {
	app := &ClientApp{}
	for _, cfg := range cfgs {
		if err := cfg.ApplyClientApp(app); err != nil {
			return nil, errors.Wrap(err, "apply ClientApp cfg failed")
		}
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate ClientApp failed")
	}
	return app, nil
}

func (app *ClientApp) dial(ctx context.Context) (transport.Conn, error) {
	if strings.HasPrefix(app.Addr, "ws://") || strings.HasPrefix(app.Addr, "wss://") {
		conn, err := transport.DialWS(ctx, app.Addr)
		return conn, errors.Wrap(err, "dial websocket failed")
	}
	conn, err := transport.DialUDP(app.Addr)
	return conn, errors.Wrap(err, "dial udp failed")
}

// Run joins the server and ticks the session until the context is
// cancelled or the server ends it. An optional first argument is sent as a
// chat message once the lobby is synced.
func (app *ClientApp) Run(ctx context.Context, args []string) error {
	conn, err := app.dial(ctx)
	if err != nil {
		return err
	}

	c, err := client.NewClient(
		client.WithConn(conn),
		client.WithName(app.Name),
		client.WithPassword(app.Password),
		client.WithVersion(app.Version),
		client.WithOnChat(func(env chat.Envelope) {
			logger.WithFields(map[string]interface{}{
				"from": env.SenderName,
				"type": env.Type.String(),
			}).Info(env.Text)
		}),
	)
	if err != nil {
		return errors.Wrap(err, "new client failed")
	}

	var greeting string
	if len(args) > 0 {
		greeting = args[0]
	}
	greeted := false

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return nil
		case now := <-ticker.C:
			if err := c.Update(now); err != nil {
				logger.WithField("reason", c.DisconnectReason()).Info("session over")
				return nil
			}
			if greeting != "" && !greeted && c.Lobby().Version != 0 {
				if err := c.SendChat(greeting); err == nil {
					greeted = true
				}
			}
		}
	}
}
