package client

import "github.com/pkg/errors"

// ErrDisconnected indicates the session died; DisconnectReason carries the
// user-facing explanation and the caller decides whether to redial.
var ErrDisconnected = errors.New("disconnected from server")

// ErrNotConnected indicates an operation that needs an admitted session.
var ErrNotConnected = errors.New("not connected")
