package shm

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/duct-ipc/duct-go/pkg/address"
)

// connIDLen is the handshake length: the connection id is exactly 16
// lowercase hex digits on the wire.
const connIDLen = 16

// names identifies every OS resource of one connection. POSIX imposes tight
// limits on shared-object name lengths, so identifiers stay short: an
// 8-hex-digit hash stable per bus name plus the first 8 hex digits of the
// connection id.
type names struct {
	base   string // sanitized bus name
	connID string // 16 lowercase hex digits

	segmentPath   string // backing file for the mapped segment
	bootstrapPath string // rendezvous unix socket
}

// busHash8 returns the stable 8-hex-digit FNV-1a hash of a sanitized bus
// name.
func busHash8(base string) string {
	h := fnv.New32a()
	h.Write([]byte(base))
	return fmt.Sprintf("%08x", h.Sum32())
}

// newConnID generates a random 16-hex-digit connection id.
func newConnID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:connIDLen/2])
}

// makeNames derives every resource name for busName and connID.
func makeNames(busName, connID string) names {
	base := address.SanitizeName(busName)
	hash8 := busHash8(base)
	prefix := "d" + hash8 + connID[:8]

	return names{
		base:          base,
		connID:        connID,
		segmentPath:   filepath.Join(segmentDir(), prefix+"m"),
		bootstrapPath: filepath.Join(os.TempDir(), "duct_shm_"+hash8+".sock"),
	}
}

// segmentDir prefers /dev/shm where available so the segment never touches
// a disk, falling back to the temporary directory.
func segmentDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}
