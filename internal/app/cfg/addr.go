// Package cfg implements functionality to configure an app.
//
// The configuration objects defined here need only be implemented once,
// but can be applied to multiple types. In order to add support for a new
// type, the configuration need only implement an ApplyX method.
package cfg

import (
	"fmt"

	"fathom/internal"
	"fathom/internal/app/apps"
)

// AddrCfg is configuration for the session address: the listen address on
// the server, the dial address on the client.
type AddrCfg struct {
	addr string
}

// NewAddrCfg creates a new AddrCfg from the given address.
func NewAddrCfg(addr string) *AddrCfg {
	return &AddrCfg{addr: addr}
}

// AddrFromEnv creates a new AddrCfg from the current environment.
func AddrFromEnv() *AddrCfg {
	return &AddrCfg{addr: fmt.Sprintf(":%d", internal.Port)}
}

// ApplyClientApp applies the AddrCfg to a ClientApp.
func (cfg AddrCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.Addr = cfg.addr
	return nil
}

// ApplyServerApp applies the AddrCfg to a ServerApp.
func (cfg AddrCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.Addr = cfg.addr
	return nil
}
