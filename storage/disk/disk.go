/*
Package disk is the raw block device collaborator the buffer cache
faults sectors through. disk_read/disk_write are treated as an
external interface the core does not implement; this package supplies
that interface plus two implementations so the rest of the module is
runnable and testable end to end.

The split mirrors github.com/HayatoShiba/ppdb/storage/disk's
storage/opener pair: production code talks to a real file, tests talk
to an in-memory backing array so no actual disk I/O happens while
running the suite.
*/
package disk

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/pintosgo/fscore/sector"
)

// Device is the raw block device. Both operations move exactly one
// whole sector and may block; callers never see a partial sector.
type Device interface {
	ReadSector(sec sector.ID, dst []byte) error
	WriteSector(sec sector.ID, src []byte) error
}

// MemDevice is an in-memory Device backed by a growable byte slice. It
// is intended for tests, the same way ppdb's bufferStorage keeps
// storage-layer tests off the filesystem.
type MemDevice struct {
	data [][sector.Size]byte
}

// NewMemDevice returns an empty in-memory device.
func NewMemDevice() *MemDevice {
	return &MemDevice{}
}

func (d *MemDevice) grow(sec sector.ID) {
	for int64(len(d.data)) <= int64(sec) {
		d.data = append(d.data, [sector.Size]byte{})
	}
}

// ReadSector copies the sector's contents into dst. Sectors never
// written to read back as zeroes, the same as a freshly-formatted disk.
func (d *MemDevice) ReadSector(sec sector.ID, dst []byte) error {
	if sec < 0 {
		return errors.Errorf("disk: invalid sector %d", sec)
	}
	if len(dst) != sector.Size {
		return errors.Errorf("disk: dst must be %d bytes, got %d", sector.Size, len(dst))
	}
	d.grow(sec)
	copy(dst, d.data[sec][:])
	return nil
}

// WriteSector overwrites the sector's contents with src.
func (d *MemDevice) WriteSector(sec sector.ID, src []byte) error {
	if sec < 0 {
		return errors.Errorf("disk: invalid sector %d", sec)
	}
	if len(src) != sector.Size {
		return errors.Errorf("disk: src must be %d bytes, got %d", sector.Size, len(src))
	}
	d.grow(sec)
	copy(d.data[sec][:], src)
	return nil
}

// FileDevice is a Device backed by an *os.File, for real use outside
// of tests.
type FileDevice struct {
	f *os.File
}

// OpenFileDevice opens (creating if necessary) the file at path as a
// FileDevice.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "os.OpenFile failed")
	}
	return &FileDevice{f: f}, nil
}

// Close closes the underlying file.
func (d *FileDevice) Close() error {
	return d.f.Close()
}

// ReadSector reads one sector at its byte offset in the file.
func (d *FileDevice) ReadSector(sec sector.ID, dst []byte) error {
	if len(dst) != sector.Size {
		return errors.Errorf("disk: dst must be %d bytes, got %d", sector.Size, len(dst))
	}
	n, err := d.f.ReadAt(dst, int64(sec)*sector.Size)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// sector was never written; treat the unread tail as zeroes,
			// the same as a freshly-formatted disk.
			for i := n; i < len(dst); i++ {
				dst[i] = 0
			}
			return nil
		}
		return errors.Wrapf(err, "ReadAt sector %d failed", sec)
	}
	return nil
}

// WriteSector writes one sector at its byte offset in the file.
func (d *FileDevice) WriteSector(sec sector.ID, src []byte) error {
	if len(src) != sector.Size {
		return errors.Errorf("disk: src must be %d bytes, got %d", sector.Size, len(src))
	}
	if _, err := d.f.WriteAt(src, int64(sec)*sector.Size); err != nil {
		return errors.Wrapf(err, "WriteAt sector %d failed", sec)
	}
	return nil
}
