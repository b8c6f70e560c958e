package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-ext2/device"
)

func sectorData(b byte) []byte {
	s := make([]byte, device.SectorSize)
	for i := range s {
		s[i] = b
	}
	return s
}

func TestMemDeviceReadWrite(t *testing.T) {
	d := device.NewMemDevice(16)
	assert.Equal(t, uint64(16), d.NumSectors())

	d.WriteSectors(3, 1, sectorData(0xAA))
	d.WriteSectors(4, 1, sectorData(0xBB))

	buf := make([]byte, 2*device.SectorSize)
	d.ReadSectors(3, 2, buf)
	assert.Equal(t, sectorData(0xAA), buf[:device.SectorSize])
	assert.Equal(t, sectorData(0xBB), buf[device.SectorSize:])
}

func TestMemDeviceFromImagePads(t *testing.T) {
	img := []byte{1, 2, 3}
	d := device.NewMemDeviceFromImage(img)
	assert.Equal(t, uint64(1), d.NumSectors())

	buf := make([]byte, device.SectorSize)
	d.ReadSectors(0, 1, buf)
	assert.Equal(t, []byte{1, 2, 3}, buf[:3])
	assert.Equal(t, byte(0), buf[3])
}

func TestMemDeviceBounds(t *testing.T) {
	d := device.NewMemDevice(4)
	buf := make([]byte, device.SectorSize)
	require.Panics(t, func() { d.ReadSectors(4, 1, buf) })
	require.Panics(t, func() { d.ReadSectors(0, 2, buf) }, "buffer too small")
	require.Panics(t, func() { d.ReadSectors(^uint64(0), 2, buf) }, "lba+count overflow")
}

func TestDiskDeviceSectorAddressing(t *testing.T) {
	dd := device.NewDiskDevice(disk.NewMemDisk(4))
	assert.Equal(t, 4*disk.BlockSize/device.SectorSize, dd.NumSectors())

	// Straddle the goose block boundary: sectors 7 and 8 live in
	// blocks 0 and 1.
	dd.WriteSectors(7, 1, sectorData(0x11))
	dd.WriteSectors(8, 1, sectorData(0x22))

	buf := make([]byte, 2*device.SectorSize)
	dd.ReadSectors(7, 2, buf)
	assert.Equal(t, sectorData(0x11), buf[:device.SectorSize])
	assert.Equal(t, sectorData(0x22), buf[device.SectorSize:])
}

func TestDiskDevicePartialBlockWrite(t *testing.T) {
	gd := disk.NewMemDisk(2)
	dd := device.NewDiskDevice(gd)

	dd.WriteSectors(1, 1, sectorData(0x33))

	// The rest of the goose block is untouched.
	blk := gd.Read(0)
	assert.Equal(t, byte(0), blk[0])
	assert.Equal(t, byte(0x33), blk[device.SectorSize])
	assert.Equal(t, byte(0), blk[2*device.SectorSize])
}
