package device

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-ext2/util"
)

var _ Device = (*fileDevice)(nil)

type fileDevice struct {
	fd         int
	numSectors uint64
}

// NewFileDevice opens a disk image as a sector device.
func NewFileDevice(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &fileDevice{fd: fd, numSectors: uint64(stat.Size) / SectorSize}, nil
}

func (d *fileDevice) ReadSectors(lba uint64, count uint64, buf []byte) {
	checkRange(lba, count, d.numSectors, uint64(len(buf)))
	n, err := unix.Pread(d.fd, buf[:count*SectorSize], int64(lba*SectorSize))
	if err != nil {
		panic("device: read failed: " + err.Error())
	}
	if uint64(n) != count*SectorSize {
		panic(fmt.Errorf("device: short read at %d: %d of %d bytes",
			lba, n, count*SectorSize))
	}
}

func (d *fileDevice) NumSectors() uint64 {
	return d.numSectors
}

func (d *fileDevice) Close() {
	err := unix.Close(d.fd)
	if err != nil {
		panic(err)
	}
}

var _ Device = (*MemDevice)(nil)

// MemDevice is an in-core device. Reads go through a RW lock so that a
// fixture writer and many driver goroutines can share it.
type MemDevice struct {
	l       *sync.RWMutex
	sectors []byte
}

func NewMemDevice(numSectors uint64) *MemDevice {
	return &MemDevice{
		l:       new(sync.RWMutex),
		sectors: make([]byte, numSectors*SectorSize),
	}
}

// NewMemDeviceFromImage wraps an existing raw image, padding it to a
// whole sector.
func NewMemDeviceFromImage(img []byte) *MemDevice {
	sz := util.RoundUpBytes(uint64(len(img)), SectorSize)
	sectors := make([]byte, sz)
	copy(sectors, img)
	return &MemDevice{l: new(sync.RWMutex), sectors: sectors}
}

func (d *MemDevice) ReadSectors(lba uint64, count uint64, buf []byte) {
	d.l.RLock()
	defer d.l.RUnlock()
	checkRange(lba, count, uint64(len(d.sectors))/SectorSize, uint64(len(buf)))
	copy(buf[:count*SectorSize], d.sectors[lba*SectorSize:])
}

// WriteSectors populates sectors [lba, lba+count) from buf. The driver
// core never writes; this exists for fixtures and mkfs-style tooling.
func (d *MemDevice) WriteSectors(lba uint64, count uint64, buf []byte) {
	d.l.Lock()
	defer d.l.Unlock()
	checkRange(lba, count, uint64(len(d.sectors))/SectorSize, uint64(len(buf)))
	copy(d.sectors[lba*SectorSize:(lba+count)*SectorSize], buf)
}

func (d *MemDevice) NumSectors() uint64 {
	return uint64(len(d.sectors)) / SectorSize
}

func (d *MemDevice) Close() {}

func checkRange(lba uint64, count uint64, numSectors uint64, bufLen uint64) {
	if util.SumOverflows(lba, count) || lba+count > numSectors {
		panic(fmt.Errorf("device: out-of-bounds read at %d+%d of %d",
			lba, count, numSectors))
	}
	if bufLen < count*SectorSize {
		panic(fmt.Errorf("device: buffer too small: %d < %d",
			bufLen, count*SectorSize))
	}
}
