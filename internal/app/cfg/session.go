package cfg

import (
	"fathom/internal"
	"fathom/internal/app/apps"
)

// PasswordCfg is configuration for the session password.
type PasswordCfg struct {
	password string
}

// NewPasswordCfg creates a new PasswordCfg from the given password.
func NewPasswordCfg(password string) *PasswordCfg {
	return &PasswordCfg{password: password}
}

// PasswordFromEnv creates a new PasswordCfg from the current environment.
func PasswordFromEnv() *PasswordCfg {
	return &PasswordCfg{password: internal.Password}
}

// ApplyClientApp applies the PasswordCfg to a ClientApp.
func (cfg PasswordCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.Password = cfg.password
	return nil
}

// ApplyServerApp applies the PasswordCfg to a ServerApp.
func (cfg PasswordCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.Password = cfg.password
	return nil
}

// NameCfg is configuration for the client display name.
type NameCfg struct {
	name string
}

// NewNameCfg creates a new NameCfg from the given name.
func NewNameCfg(name string) *NameCfg {
	return &NameCfg{name: name}
}

// NameFromEnv creates a new NameCfg from the current environment.
func NameFromEnv() *NameCfg {
	return &NameCfg{name: internal.Name}
}

// ApplyClientApp applies the NameCfg to a ClientApp.
func (cfg NameCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.Name = cfg.name
	return nil
}

// VersionCfg is configuration for the game version both peers must match.
type VersionCfg struct {
	version string
}

// NewVersionCfg creates a new VersionCfg from the given version.
func NewVersionCfg(version string) *VersionCfg {
	return &VersionCfg{version: version}
}

// VersionFromEnv creates a new VersionCfg from the current environment.
func VersionFromEnv() *VersionCfg {
	return &VersionCfg{version: internal.Version}
}

// ApplyClientApp applies the VersionCfg to a ClientApp.
func (cfg VersionCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.Version = cfg.version
	return nil
}

// ApplyServerApp applies the VersionCfg to a ServerApp.
func (cfg VersionCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.Version = cfg.version
	return nil
}
