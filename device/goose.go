package device

import (
	"github.com/tchajed/goose/machine/disk"
)

// sectorsPerDiskBlock relates the goose disk's 4 KiB blocks to device
// sectors.
const sectorsPerDiskBlock = disk.BlockSize / SectorSize

var _ Device = (*DiskDevice)(nil)

// DiskDevice adapts a goose block disk into a sector device. Each sector
// is a 512-byte slice of the goose block that contains it.
type DiskDevice struct {
	d disk.Disk
}

func NewDiskDevice(d disk.Disk) *DiskDevice {
	return &DiskDevice{d: d}
}

func (dd *DiskDevice) ReadSectors(lba uint64, count uint64, buf []byte) {
	checkRange(lba, count, dd.NumSectors(), uint64(len(buf)))
	for done := uint64(0); done < count; {
		blkno := (lba + done) / sectorsPerDiskBlock
		first := (lba + done) % sectorsPerDiskBlock
		n := sectorsPerDiskBlock - first
		if n > count-done {
			n = count - done
		}
		blk := dd.d.Read(blkno)
		copy(buf[done*SectorSize:(done+n)*SectorSize],
			blk[first*SectorSize:(first+n)*SectorSize])
		done += n
	}
}

func (dd *DiskDevice) NumSectors() uint64 {
	return dd.d.Size() * sectorsPerDiskBlock
}

func (dd *DiskDevice) Close() {
	dd.d.Close()
}

// WriteSectors updates sectors within the underlying goose disk,
// read-modify-writing partial blocks. Fixture support only.
func (dd *DiskDevice) WriteSectors(lba uint64, count uint64, buf []byte) {
	if count == 0 {
		return
	}
	checkRange(lba, count, dd.NumSectors(), uint64(len(buf)))
	for done := uint64(0); done < count; {
		blkno := (lba + done) / sectorsPerDiskBlock
		first := (lba + done) % sectorsPerDiskBlock
		n := sectorsPerDiskBlock - first
		if n > count-done {
			n = count - done
		}
		blk := dd.d.Read(blkno)
		copy(blk[first*SectorSize:(first+n)*SectorSize],
			buf[done*SectorSize:(done+n)*SectorSize])
		dd.d.Write(blkno, blk)
		done += n
	}
}
