//go:build !windows

package shm

import (
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/duct-ipc/duct-go/pkg/status"
)

// Segment layout constants. Offsets are fixed so that both processes agree
// without exchanging anything beyond the segment name.
const (
	segmentMagic   uint32 = 0x44554354 // "DUCT"
	segmentVersion uint32 = 1

	// slotPayloadMax matches the wire-frame payload maximum.
	slotPayloadMax = 64 * 1024
	// slotCount is the ring capacity in messages.
	slotCount = 64

	slotHeaderSize = 8 // len + reserved
	slotSize       = slotHeaderSize + slotPayloadMax

	segmentHeaderSize = 64

	// Ring header: head and tail on separate cache lines. head is mutated
	// only by the producer, tail only by the consumer.
	ringHeadOff  = 0
	ringTailOff  = 64
	ringSlotsOff = 128
	ringSize     = ringSlotsOff + slotCount*slotSize

	c2sRingOff  = segmentHeaderSize
	s2cRingOff  = segmentHeaderSize + ringSize
	segmentSize = segmentHeaderSize + 2*ringSize

	// Segment header fields: magic, version, and the four semaphore words.
	magicOff     = 0
	versionOff   = 4
	c2sItemsOff  = 8
	c2sSpacesOff = 12
	s2cItemsOff  = 16
	s2cSpacesOff = 20
)

// segment is one mapped connection segment.
type segment struct {
	file *os.File
	mem  []byte
	path string
}

func (s *segment) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&s.mem[off]))
}

// createSegment creates the backing file exclusively, sizes it, maps it,
// and initializes the header and semaphore counts. Creation failure (the
// path already exists, or the filesystem refuses) is an IoError.
func createSegment(path string) (*segment, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, status.Wrapf(err, status.IoError, "create segment %s failed", path)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(segmentSize)); err != nil {
		cleanup()
		return nil, status.Wrap(err, status.IoError, "size segment failed")
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, segmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, status.Wrap(err, status.IoError, "mmap segment failed")
	}

	s := &segment{file: file, mem: mem, path: path}

	// The file is born zero-filled; only the non-zero fields need storing.
	atomic.StoreUint32(s.word(magicOff), segmentMagic)
	atomic.StoreUint32(s.word(versionOff), segmentVersion)
	atomic.StoreUint32(s.word(c2sSpacesOff), slotCount)
	atomic.StoreUint32(s.word(s2cSpacesOff), slotCount)

	return s, nil
}

// openSegment maps an existing segment created by a dialer and validates
// its header.
func openSegment(path string) (*segment, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, status.Wrapf(err, status.IoError, "open segment %s failed", path)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, status.Wrap(err, status.IoError, "stat segment failed")
	}
	if info.Size() < int64(segmentSize) {
		file.Close()
		return nil, status.ProtocolErrorf("segment %s is %d bytes, want %d", path, info.Size(), segmentSize)
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, segmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, status.Wrap(err, status.IoError, "mmap segment failed")
	}

	s := &segment{file: file, mem: mem, path: path}
	if atomic.LoadUint32(s.word(magicOff)) != segmentMagic {
		s.unmap()
		return nil, status.ProtocolErrorf("segment %s has bad magic", path)
	}
	if v := atomic.LoadUint32(s.word(versionOff)); v != segmentVersion {
		s.unmap()
		return nil, status.ProtocolErrorf("segment %s has unsupported version %d", path, v)
	}
	return s, nil
}

// unmap releases the local mapping and file handle. It never unlinks.
func (s *segment) unmap() {
	if s.mem != nil {
		_ = unix.Munmap(s.mem)
		s.mem = nil
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}

// unlink removes the segment from the namespace. Only the owning dialer
// calls this.
func (s *segment) unlink() {
	_ = os.Remove(s.path)
}
