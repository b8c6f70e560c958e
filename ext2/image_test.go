package ext2_test

import (
	"encoding/binary"
	"sync"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-ext2/common"
	"github.com/mit-pdos/go-ext2/device"
)

// testImage assembles a minimal one-group ext2 image in memory.
//
// Geometry: one block group, 32 inodes of 128 bytes (inode table at
// inodeTableBlock), block group descriptor table at the first block
// boundary at or after byte 2048.
type testImage struct {
	blockSize uint64
	numBlocks uint64
	data      []byte
}

const inodeTableBlock = 5

func mkTestImage(blockSize uint64, numBlocks uint64) *testImage {
	ti := &testImage{
		blockSize: blockSize,
		numBlocks: numBlocks,
		data:      make([]byte, blockSize*numBlocks),
	}

	logBlockSize := uint32(0)
	for bs := uint64(1024); bs < blockSize; bs *= 2 {
		logBlockSize++
	}

	sb := ti.data[1024:]
	binary.LittleEndian.PutUint32(sb[4:], uint32(numBlocks))   // blocks count
	binary.LittleEndian.PutUint32(sb[24:], logBlockSize)       // log block size
	binary.LittleEndian.PutUint32(sb[32:], uint32(numBlocks))  // blocks per group
	binary.LittleEndian.PutUint32(sb[40:], 32)                 // inodes per group
	binary.LittleEndian.PutUint16(sb[56:], 0xEF53)             // magic
	binary.LittleEndian.PutUint16(sb[88:], 128)                // inode size

	// Single group descriptor at the first block boundary at or after
	// 2048.
	bgdtOffset := uint64(2048)
	if blockSize > 2048 {
		bgdtOffset = blockSize
	}
	binary.LittleEndian.PutUint32(ti.data[bgdtOffset+8:], inodeTableBlock)

	return ti
}

// setInode writes inode record n into the inode table. ptrs is the
// 15-entry block pointer array, zero-padded.
func (ti *testImage) setInode(n common.Inum, mode uint16, size uint32,
	ptrs []common.Bnum) {
	rec := ti.data[inodeTableBlock*ti.blockSize+uint64(n-1)*128:]
	binary.LittleEndian.PutUint16(rec[0:], mode)
	binary.LittleEndian.PutUint16(rec[2:], 1000) // uid
	binary.LittleEndian.PutUint32(rec[4:], size)
	binary.LittleEndian.PutUint32(rec[8:], 1700000000)  // atime
	binary.LittleEndian.PutUint32(rec[12:], 1700000001) // ctime
	binary.LittleEndian.PutUint32(rec[16:], 1700000002) // mtime
	binary.LittleEndian.PutUint16(rec[24:], 100) // gid
	binary.LittleEndian.PutUint16(rec[26:], 1)   // links

	enc := marshal.NewEnc(4 * 15)
	for i := 0; i < 15; i++ {
		if i < len(ptrs) {
			enc.PutInt32(uint32(ptrs[i]))
		} else {
			enc.PutInt32(0)
		}
	}
	copy(rec[40:], enc.Finish())
}

// writePointers fills block bnum with a u32 pointer table, zero-padded
// to the block size.
func (ti *testImage) writePointers(bnum common.Bnum, ptrs []common.Bnum) {
	enc := marshal.NewEnc(ti.blockSize)
	for i := uint64(0); i < ti.blockSize/4; i++ {
		if i < uint64(len(ptrs)) {
			enc.PutInt32(uint32(ptrs[i]))
		} else {
			enc.PutInt32(0)
		}
	}
	copy(ti.data[uint64(bnum)*ti.blockSize:], enc.Finish())
}

// fillBlock writes a recognizable pattern into data block bnum: every
// byte is seed xor the low byte of its block offset.
func (ti *testImage) fillBlock(bnum common.Bnum, seed byte) {
	blk := ti.data[uint64(bnum)*ti.blockSize : (uint64(bnum)+1)*ti.blockSize]
	for i := range blk {
		blk[i] = seed ^ byte(i)
	}
}

func blockPattern(blockSize uint64, seed byte) []byte {
	blk := make([]byte, blockSize)
	for i := range blk {
		blk[i] = seed ^ byte(i)
	}
	return blk
}

// dirent encodes one directory record.
func dirent(inum common.Inum, recLen uint16, ftype uint8, name string) []byte {
	b := make([]byte, recLen)
	binary.LittleEndian.PutUint32(b[0:], uint32(inum))
	binary.LittleEndian.PutUint16(b[4:], recLen)
	b[6] = uint8(len(name))
	b[7] = ftype
	copy(b[8:], name)
	return b
}

// writeDirBlock lays the given records into block bnum.
func (ti *testImage) writeDirBlock(bnum common.Bnum, recs ...[]byte) {
	off := uint64(bnum) * ti.blockSize
	for _, rec := range recs {
		copy(ti.data[off:], rec)
		off += uint64(len(rec))
	}
}

// readOp records one ReadSectors call.
type readOp struct {
	lba   uint64
	count uint64
}

// countingDevice wraps a MemDevice and records every sector read.
type countingDevice struct {
	*device.MemDevice

	mu    sync.Mutex
	reads []readOp
}

func (ti *testImage) mkDevice() *countingDevice {
	return &countingDevice{MemDevice: device.NewMemDeviceFromImage(ti.data)}
}

func (d *countingDevice) ReadSectors(lba uint64, count uint64, buf []byte) {
	d.mu.Lock()
	d.reads = append(d.reads, readOp{lba: lba, count: count})
	d.mu.Unlock()
	d.MemDevice.ReadSectors(lba, count, buf)
}

func (d *countingDevice) reset() {
	d.mu.Lock()
	d.reads = nil
	d.mu.Unlock()
}

func (d *countingDevice) ops() []readOp {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]readOp(nil), d.reads...)
}
