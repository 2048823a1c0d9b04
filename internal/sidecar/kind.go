// Package sidecar defines the toolchain container kinds the session
// manager and tool router agree on.
package sidecar

import "fmt"

// Kind identifies a toolchain family served by one sidecar container.
type Kind string

const (
	Rust   Kind = "rust"
	Node   Kind = "node"
	Python Kind = "python"
	CppCpp Kind = "cpp"
	Go     Kind = "go"
)

// AllKinds enumerates every known toolchain kind, in a stable order used
// for deterministic sidecar start-up and status reporting.
var AllKinds = []Kind{Rust, Node, Python, CppCpp, Go}

// Valid reports whether k is a known toolchain kind.
func (k Kind) Valid() bool {
	switch k {
	case Rust, Node, Python, CppCpp, Go:
		return true
	}
	return false
}

// ParseKind parses a user- or config-supplied toolchain name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown toolchain kind %q", s)
	}
	return k, nil
}

// Sidecar is a running sidecar container belonging to one session.
type Sidecar struct {
	Kind          Kind
	ContainerName string
	Image         string
	Ready         bool
}
