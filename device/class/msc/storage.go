package msc

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Storage errors.
var (
	ErrMediumNotPresent = errors.New("medium not present")
	ErrWriteProtected   = errors.New("write protected")
	ErrOutOfRange       = errors.New("block range out of bounds")
	ErrNotRemovable     = errors.New("medium not removable")
)

// Storage is a block device backing a Disk.
type Storage interface {
	// BlockSize returns the size of a storage block in bytes.
	BlockSize() uint32

	// BlockCount returns the total number of blocks.
	BlockCount() uint64

	// Read reads blocks starting at lba into buf and returns the number
	// of blocks read.
	Read(lba uint64, blocks uint32, buf []byte) (uint32, error)

	// Write writes blocks from buf starting at lba and returns the number
	// of blocks written.
	Write(lba uint64, blocks uint32, buf []byte) (uint32, error)

	// Sync flushes any cached writes to storage.
	Sync() error

	IsReadOnly() bool
	IsRemovable() bool
	IsPresent() bool

	// Eject removes the medium. Fails with ErrNotRemovable for fixed media.
	Eject() error
}

// backing is the byte-addressed store under a volume.
type backing interface {
	io.ReaderAt
	io.WriterAt
}

// volume serves whole blocks from a backing and carries the medium state
// a host sees through SCSI: write protection, removability and presence.
type volume struct {
	store     backing
	blockSize uint32
	blocks    uint64
	readOnly  bool
	removable bool
	present   bool
	mutex     sync.RWMutex
}

func (v *volume) attach(store backing, size uint64, blockSize uint32, readOnly bool) {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	v.store = store
	v.blockSize = blockSize
	v.blocks = size / uint64(blockSize)
	v.readOnly = readOnly
	v.present = true
}

// locate maps a block run onto the backing. Caller holds the mutex.
func (v *volume) locate(lba uint64, blocks uint32, buf []byte) (int64, []byte, error) {
	if !v.present {
		return 0, nil, ErrMediumNotPresent
	}
	if lba > v.blocks || uint64(blocks) > v.blocks-lba {
		return 0, nil, errors.Wrapf(ErrOutOfRange, "lba %d+%d of %d", lba, blocks, v.blocks)
	}
	length := uint64(blocks) * uint64(v.blockSize)
	if uint64(len(buf)) < length {
		return 0, nil, errors.Errorf("buffer of %d bytes for %d blocks", len(buf), blocks)
	}
	return int64(lba * uint64(v.blockSize)), buf[:length], nil
}

// BlockSize returns the block size.
func (v *volume) BlockSize() uint32 {
	return v.blockSize
}

// BlockCount returns the number of whole blocks.
func (v *volume) BlockCount() uint64 {
	return v.blocks
}

// Read reads blocks from the medium. A failing backing reports how many
// whole blocks arrived before the error.
func (v *volume) Read(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	v.mutex.RLock()
	defer v.mutex.RUnlock()

	off, p, err := v.locate(lba, blocks, buf)
	if err != nil || blocks == 0 {
		return 0, err
	}
	n, err := v.store.ReadAt(p, off)
	if n < len(p) {
		return uint32(n) / v.blockSize, errors.Wrapf(err, "read lba %d", lba)
	}
	return blocks, nil
}

// Write writes blocks to the medium.
func (v *volume) Write(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.present && v.readOnly {
		return 0, ErrWriteProtected
	}
	off, p, err := v.locate(lba, blocks, buf)
	if err != nil || blocks == 0 {
		return 0, err
	}
	n, err := v.store.WriteAt(p, off)
	if err != nil {
		return uint32(n) / v.blockSize, errors.Wrapf(err, "write lba %d", lba)
	}
	return blocks, nil
}

// Sync flushes the backing if it buffers writes.
func (v *volume) Sync() error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	s, ok := v.store.(interface{ Sync() error })
	if !ok || v.readOnly || !v.present {
		return nil
	}
	return errors.Wrap(s.Sync(), "sync")
}

// IsReadOnly returns whether writes are refused.
func (v *volume) IsReadOnly() bool {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.readOnly
}

// SetReadOnly sets write protection.
func (v *volume) SetReadOnly(readOnly bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.readOnly = readOnly
}

func (v *volume) IsRemovable() bool {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.removable
}

// SetRemovable lets the host eject the medium.
func (v *volume) SetRemovable(removable bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.removable = removable
}

func (v *volume) IsPresent() bool {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.present
}

// SetPresent inserts or removes the medium.
func (v *volume) SetPresent(present bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.present = present
}

// Eject removes a removable medium.
func (v *volume) Eject() error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if !v.removable {
		return ErrNotRemovable
	}
	v.present = false
	return nil
}

// ram is a byte slice addressed like a file.
type ram []byte

func (r ram) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r)) {
		return 0, io.EOF
	}
	n := copy(p, r[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r ram) WriteAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r)) {
		return 0, io.ErrShortWrite
	}
	n := copy(r[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// MemoryStorage is a RAM disk.
type MemoryStorage struct {
	volume
}

// NewMemoryStorage creates a RAM disk of size bytes. A zero blockSize
// selects DefaultBlockSize.
func NewMemoryStorage(size uint64, blockSize uint32) *MemoryStorage {
	m := &MemoryStorage{}
	m.attach(make(ram, size), size, blockSize, false)
	return m
}

// FileStorage serves a disk image. A trailing partial block is not
// addressable. The image is fixed unless SetRemovable is called.
type FileStorage struct {
	volume
	file   *os.File
	locked bool
}

// NewFileStorage opens the image at path. A zero blockSize selects
// DefaultBlockSize.
func NewFileStorage(path string, blockSize uint32, readOnly bool) (*FileStorage, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "stat image")
	}

	f := &FileStorage{file: file, locked: readOnly}
	f.attach(file, uint64(stat.Size()), blockSize, readOnly)
	return f, nil
}

// SetReadOnly sets write protection. An image opened read-only stays
// protected.
func (f *FileStorage) SetReadOnly(readOnly bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.readOnly = readOnly || f.locked
}

// SetPresent inserts or removes the image. A closed image stays absent.
func (f *FileStorage) SetPresent(present bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.present = present && f.file != nil
}

// Close closes the image. The medium reads as not present afterwards.
func (f *FileStorage) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.present = false
	return err
}
