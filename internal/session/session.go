// Package session implements the sidecar lifecycle manager (C5): it
// plans which toolchain sidecars one agent run needs, stands up an
// isolated docker network and sidecar containers for them, and tears
// everything down again on exit. The exec proxy is started by the
// caller (internal/cli's start command), not by this package.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aifo-coder/aifo-coder/internal/sidecar"
	"github.com/aifo-coder/aifo-coder/internal/transport"
)

// State is a Session's position in the lifecycle described by §4.5:
//
//	Starting -> Ready -> Draining -> Terminated
//	Starting -> Draining -> Terminated (on any start error)
type State string

const (
	Starting   State = "starting"
	Ready      State = "ready"
	Draining   State = "draining"
	Terminated State = "terminated"
)

// Session holds everything the proxy, router and launcher need to
// know about one agent run.
type Session struct {
	ID            string
	AuthToken     string
	NetworkName   string
	WorkspacePath string
	Endpoint      transport.Endpoint

	mu       sync.Mutex
	state    State
	sidecars map[sidecar.Kind]*sidecar.Sidecar
}

// containerLabel marks every container (sidecar or agent) this
// system launches, so a crash-recovery pass can find them by label
// regardless of session ID.
const containerLabel = "aifo.managed=true"

// sessionLabel returns the per-session label used for targeted
// teardown and orphan reaping (§4.5's "aifo.session=<id>").
func sessionLabel(id string) string {
	return "aifo.session=" + id
}

// mintID generates a session_id with at least 128 bits of entropy.
// uuid.NewString is grounded on the same approach other sandboxing
// systems in the retrieval pack use for per-run identifiers.
func mintID() string {
	return uuid.NewString()
}

// mintToken generates an auth_token with at least 256 bits of
// entropy, hex-encoded so it drops cleanly into an HTTP bearer
// header and an environment variable without further escaping.
func mintToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: minting auth token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// New plans a session for the given workspace and required
// toolchain kinds (step 1-2 of §4.5): mint identifiers, but do not
// yet touch docker. kinds may be empty; a session with no sidecars
// still runs the proxy so host-notify (say) keeps working.
func New(workspacePath string, kinds []sidecar.Kind) (*Session, error) {
	token, err := mintToken()
	if err != nil {
		return nil, err
	}
	id := mintID()

	sidecars := make(map[sidecar.Kind]*sidecar.Sidecar, len(kinds))
	for _, k := range kinds {
		sidecars[k] = &sidecar.Sidecar{Kind: k, ContainerName: containerName(id, k)}
	}

	return &Session{
		ID:            id,
		AuthToken:     token,
		NetworkName:   "aifo-net-" + id,
		WorkspacePath: workspacePath,
		state:         Starting,
		sidecars:      sidecars,
	}, nil
}

func containerName(sessionID string, kind sidecar.Kind) string {
	return fmt.Sprintf("aifo-%s-%s", kind, sessionID)
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Sidecars returns a snapshot of the kind->container map the router
// and launcher need. Callers must not mutate the returned map.
func (s *Session) Sidecars() map[sidecar.Kind]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[sidecar.Kind]string, len(s.sidecars))
	for k, sc := range s.sidecars {
		if sc.Ready {
			out[k] = sc.ContainerName
		}
	}
	return out
}
