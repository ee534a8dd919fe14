package auth

import (
	"crypto/hmac"
	"fmt"
	"strings"

	"fathom/internal/pkg/transport"
	"fathom/internal/pkg/wire"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxNameLength caps display names at admission; every packet that quotes
// a sender name inherits the bound.
const MaxNameLength = 32

// Admission is the outcome of a successful handshake.
type Admission struct {
	Identity uuid.UUID
	Name     string
}

// Rejection is a fatal handshake failure with a reason fit for the peer.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return "auth rejected: " + r.Reason }

type pendingAuth struct {
	identity uuid.UUID
	nonce    []byte
}

// Server runs the server side of the handshake for every connecting peer.
type Server struct {
	passwordHash []byte
	version      string
	contentHash  string
	nameInUse    func(string) bool

	pending map[transport.Conn]*pendingAuth
}

// Cfg configures a Server.
type Cfg func(*Server) error

// WithPassword enables password authentication.
func WithPassword(password string) Cfg {
	return func(s *Server) error {
		if password != "" {
			s.passwordHash = PasswordHash(password)
		}
		return nil
	}
}

// WithVersion sets the game version clients must match.
func WithVersion(version string) Cfg {
	return func(s *Server) error {
		s.version = version
		return nil
	}
}

// WithContentHash sets the content package hash clients must match.
func WithContentHash(hash string) Cfg {
	return func(s *Server) error {
		s.contentHash = hash
		return nil
	}
}

// WithNameInUse supplies the roster lookup used to reject duplicate names.
func WithNameInUse(fn func(string) bool) Cfg {
	return func(s *Server) error {
		s.nameInUse = fn
		return nil
	}
}

// NewServer creates a handshake server with the given configuration.
func NewServer(cfgs ...Cfg) (*Server, error) {
	s := &Server{pending: make(map[transport.Conn]*pendingAuth)}
	for _, cfg := range cfgs {
		if err := cfg(s); err != nil {
			return nil, errors.Wrap(err, "apply auth server cfg failed")
		}
	}
	return s, nil
}

// PasswordRequired reports whether the server demands a password proof.
func (s *Server) PasswordRequired() bool { return len(s.passwordHash) > 0 }

// HandlePacket processes one ClassAuth payload from an unadmitted peer.
// A non-nil Admission means the peer passed every check. A *Rejection
// error means the peer must be disconnected; the failure message has
// already been transmitted. Other errors are protocol errors: drop the
// packet, keep the connection.
func (s *Server) HandlePacket(conn transport.Conn, r *wire.Reader) (*Admission, error) {
	switch kind := r.ReadByte(); kind {
	case msgRequestAuth:
		identity, err := uuid.FromBytes(r.ReadBytes())
		if r.Err() != nil {
			return nil, errors.Wrap(r.Err(), "read auth request failed")
		}
		if err != nil {
			return nil, errors.Wrap(err, "parse client identity failed")
		}
		// idempotent under retransmission: a repeated request gets the
		// same nonce, never a second incompatible one
		p, ok := s.pending[conn]
		if !ok {
			n := uuid.New()
			p = &pendingAuth{identity: identity, nonce: n[:]}
			s.pending[conn] = p
		}
		s.sendResponse(conn, p.nonce)
		return nil, nil

	case msgRequestInit:
		identityRaw := r.ReadBytes()
		proof := r.ReadBytes()
		version := r.ReadString()
		contentHash := r.ReadString()
		name := strings.TrimSpace(r.ReadString())
		if r.Err() != nil {
			return nil, errors.Wrap(r.Err(), "read init request failed")
		}
		identity, err := uuid.FromBytes(identityRaw)
		if err != nil {
			return nil, errors.Wrap(err, "parse client identity failed")
		}
		p, ok := s.pending[conn]
		if !ok || p.identity != identity {
			// init without a preceding challenge on this link
			return nil, errors.New("init request without pending challenge")
		}
		if reason := s.vet(p, proof, version, contentHash, name); reason != "" {
			s.sendFailure(conn, reason)
			delete(s.pending, conn)
			return nil, &Rejection{Reason: reason}
		}
		delete(s.pending, conn)
		s.sendOK(conn)
		return &Admission{Identity: identity, Name: name}, nil

	default:
		return nil, errors.Errorf("unknown auth message kind %d", kind)
	}
}

func (s *Server) vet(p *pendingAuth, proof []byte, version, contentHash, name string) string {
	if s.version != "" && version != s.version {
		return fmt.Sprintf("server runs version %s, you are running %s", s.version, version)
	}
	if s.contentHash != "" && contentHash != s.contentHash {
		return "your content package does not match the server's"
	}
	if name == "" {
		return "display name must not be empty"
	}
	if len(name) > MaxNameLength {
		return fmt.Sprintf("display name must be at most %d characters", MaxNameLength)
	}
	if s.nameInUse != nil && s.nameInUse(name) {
		return fmt.Sprintf("the name %q is already in use", name)
	}
	if s.PasswordRequired() {
		expected := SaltedHash(s.passwordHash, p.nonce)
		if !hmac.Equal(proof, expected) {
			return "wrong password"
		}
	}
	return ""
}

// Forget drops any pending handshake state for the link.
func (s *Server) Forget(conn transport.Conn) {
	delete(s.pending, conn)
}

func (s *Server) sendResponse(conn transport.Conn, nonce []byte) {
	w := wire.NewWriter(wire.ClassAuth)
	w.WriteByte(msgAuthResponse)
	w.WriteBool(s.PasswordRequired())
	w.WriteBytes(nonce)
	w.WriteEnd()
	if err := conn.Send(w.Bytes(), false); err != nil {
		logger.WithError(err).Debug("send auth response failed")
	}
}

func (s *Server) sendOK(conn transport.Conn) {
	w := wire.NewWriter(wire.ClassAuth)
	w.WriteByte(msgAuthOK)
	w.WriteEnd()
	if err := conn.Send(w.Bytes(), false); err != nil {
		logger.WithError(err).Debug("send auth ok failed")
	}
}

func (s *Server) sendFailure(conn transport.Conn, reason string) {
	w := wire.NewWriter(wire.ClassAuth)
	w.WriteByte(msgAuthFailure)
	w.WriteString(reason)
	w.WriteEnd()
	if err := conn.Send(w.Bytes(), true); err != nil {
		logger.WithError(err).Debug("send auth failure failed")
	}
}
