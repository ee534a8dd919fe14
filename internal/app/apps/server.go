package apps

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fathom/internal/pkg/auth"
	"fathom/internal/pkg/filetransfer"
	"fathom/internal/pkg/server"
	"fathom/internal/pkg/session"
	"fathom/internal/pkg/transport"
	"fathom/internal/pkg/validate"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// ServerAppCfg configures a ServerApp.
type ServerAppCfg interface {
	ApplyServerApp(*ServerApp) error
}

// ServerApp hosts one session: a UDP listener, an optional websocket
// listener for peers behind UDP-hostile networks, and the update loop.
type ServerApp struct {
	Addr     string `validate:"required"`
	WSAddr   string
	Password string
	Version  string

	// ContentDir is the directory served through the file transfer
	// channel; empty disables file serving.
	ContentDir string
}

// NewServerApp creates a new ServerApp.
func NewServerApp(cfgs ...ServerAppCfg) (*ServerApp, error) {
	app := &ServerApp{}
	for _, cfg := range cfgs {
		if err := cfg.ApplyServerApp(app); err != nil {
			return nil, errors.Wrap(err, "apply ServerApp cfg failed")
		}
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate ServerApp failed")
	}
	return app, nil
}

// provider serves files from ContentDir, keyed by transfer type subdirectory.
func (app *ServerApp) provider() filetransfer.Provider {
	if app.ContentDir == "" {
		return nil
	}
	return func(fileType filetransfer.FileType, name string) ([]byte, error) {
		if name == "" || name == ".." || strings.ContainsAny(name, `/\`) {
			return nil, errors.Errorf("illegal file name %q", name)
		}
		path := filepath.Join(app.ContentDir, fileType.String(), name)
		data, err := os.ReadFile(path)
		return data, errors.Wrapf(err, "read %s failed", path)
	}
}

// Run serves until the context is cancelled.
func (app *ServerApp) Run(ctx context.Context, args []string) error {
	store := session.NewMemoryStore()
	authSrv, err := auth.NewServer(
		auth.WithPassword(app.Password),
		auth.WithVersion(app.Version),
		auth.WithNameInUse(func(name string) bool {
			rec, ok := store.ByName(name)
			return ok && rec.State != session.StateDisconnected
		}),
	)
	if err != nil {
		return errors.Wrap(err, "new auth server failed")
	}

	udp, err := transport.ListenUDP(app.Addr)
	if err != nil {
		return errors.Wrap(err, "listen udp failed")
	}
	defer func() {
		if err := udp.Close(); err != nil {
			logger.WithError(err).Debug("close udp listener failed")
		}
	}()

	cfgs := []server.Cfg{
		server.WithAcceptor(udp),
		server.WithSessionStore(store),
		server.WithAuth(authSrv),
	}
	if provider := app.provider(); provider != nil {
		cfgs = append(cfgs, server.WithFileProvider(provider))
	}

	var httpSrv *http.Server
	if app.WSAddr != "" {
		acceptor := transport.NewWSAcceptor()
		cfgs = append(cfgs, server.WithAcceptor(acceptor))
		httpSrv = &http.Server{Addr: app.WSAddr, Handler: acceptor}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("websocket listener failed")
			}
		}()
	}

	srv, err := server.NewServer(cfgs...)
	if err != nil {
		return errors.Wrap(err, "new server failed")
	}

	logger.WithFields(map[string]interface{}{
		"addr":    app.Addr,
		"wsAddr":  app.WSAddr,
		"version": app.Version,
	}).Info("server listening")

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			srv.Shutdown("server shutting down")
			if httpSrv != nil {
				if err := httpSrv.Close(); err != nil {
					logger.WithError(err).Debug("close websocket listener failed")
				}
			}
			return nil
		case now := <-ticker.C:
			srv.Update(now)
		}
	}
}
