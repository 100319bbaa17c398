// Package address parses the URI form peers are addressed by.
//
// The accepted grammar is
//
//	uri    := [scheme "://"] body
//	scheme := "tcp" | "uds" | "shm" | "pipe"
//
// where a bare "host:port" with no scheme is interpreted as tcp, tcp bodies
// are host:port with an empty host defaulting to 127.0.0.1, uds bodies are
// filesystem paths, and shm/pipe bodies are non-empty names.
package address

import (
	"strconv"
	"strings"

	"github.com/duct-ipc/duct-go/pkg/status"
)

// Scheme tags the transport family an address selects.
type Scheme int

const (
	Unknown Scheme = iota
	Tcp
	Uds
	Shm
	Pipe
)

// String returns the scheme text as it appears in URIs.
func (s Scheme) String() string {
	switch s {
	case Tcp:
		return "tcp"
	case Uds:
		return "uds"
	case Shm:
		return "shm"
	case Pipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// Address is the parsed form of a peer URI. Host/Port are set for Tcp,
// Path for Uds, Name for Shm and Pipe.
type Address struct {
	Scheme     Scheme
	SchemeText string
	Raw        string

	Host string
	Port uint16
	Path string
	Name string
}

// Parse parses a URI string into an Address. Malformed bodies yield
// InvalidArgument; an unrecognized scheme yields the Unknown tag so that
// dispatch can report NotSupported with the scheme text.
func Parse(s string) (Address, error) {
	a := Address{Raw: s}

	body := s
	if idx := strings.Index(s, "://"); idx >= 0 {
		a.SchemeText = s[:idx]
		body = s[idx+3:]
		switch a.SchemeText {
		case "tcp":
			a.Scheme = Tcp
		case "uds":
			a.Scheme = Uds
		case "shm":
			a.Scheme = Shm
		case "pipe":
			a.Scheme = Pipe
		default:
			a.Scheme = Unknown
			return a, nil
		}
	} else {
		// Bare host:port is tcp for convenience.
		a.Scheme = Tcp
		a.SchemeText = "tcp"
	}

	switch a.Scheme {
	case Tcp:
		colon := strings.LastIndexByte(body, ':')
		if colon < 0 {
			return Address{}, status.InvalidArgumentf("tcp address must be host:port: %q", s)
		}
		a.Host = body[:colon]
		if a.Host == "" {
			a.Host = "127.0.0.1"
		}
		port, err := strconv.ParseUint(body[colon+1:], 10, 16)
		if err != nil {
			return Address{}, status.InvalidArgumentf("invalid tcp port in %q", s)
		}
		a.Port = uint16(port)
		return a, nil

	case Uds:
		if body == "" {
			return Address{}, status.InvalidArgumentf("uds address must be a non-empty path")
		}
		a.Path = body
		return a, nil

	case Shm, Pipe:
		if body == "" {
			return Address{}, status.InvalidArgumentf("%s address must be a non-empty name", a.SchemeText)
		}
		a.Name = body
		return a, nil
	}

	return Address{}, status.InvalidArgumentf("unknown scheme in %q", s)
}

// SanitizeName maps a bus name onto the restricted character set used for
// named OS resources: anything outside [A-Za-z0-9_] becomes '_'. An empty
// result falls back to "duct".
func SanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "duct"
	}
	return b.String()
}
