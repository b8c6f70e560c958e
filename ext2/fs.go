// Package ext2 implements a read-only ext2 filesystem driver. File and
// indirect-block contents live in demand-paged memory objects: readers
// lock ranges of an inode's frontal memory, and per-inode servicer
// goroutines answer the resulting manage faults by resolving logical
// blocks to physical blocks and reading them from the device.
package ext2

import (
	"fmt"
	"sync"

	"github.com/mit-pdos/go-ext2/common"
	"github.com/mit-pdos/go-ext2/device"
	"github.com/mit-pdos/go-ext2/disklayout"
	"github.com/mit-pdos/go-ext2/memory"
	"github.com/mit-pdos/go-ext2/util"
)

// FileSystem is one mounted ext2 instance. Geometry is immutable after
// MkFs; the registry of active inodes is guarded by mu.
type FileSystem struct {
	d device.Device

	// superblock-derived geometry
	inodeSize       uint64
	blockShift      uint64
	blockSize       uint64
	sectorsPerBlock uint64
	blockPagesShift uint64
	numBlockGroups  uint64
	inodesPerGroup  uint64

	// inode table start block of each group
	groups []disklayout.GroupDesc

	mu     *sync.Mutex
	active map[common.Inum]*Inode
}

// MkFs reads the superblock and block group descriptor table and returns
// a ready filesystem. A bad superblock magic is fatal.
func MkFs(d device.Device) *FileSystem {
	// The superblock is 1 KiB at byte offset 1024: sectors 2 and 3.
	buf := make([]byte, 1024)
	d.ReadSectors(disklayout.SuperblockOffset/device.SectorSize,
		uint64(len(buf))/device.SectorSize, buf)
	sb := disklayout.ParseSuperblock(buf)
	if sb.Magic != disklayout.SuperblockMagic {
		panic(fmt.Errorf("ext2: bad superblock magic %#x", sb.Magic))
	}

	fs := &FileSystem{
		d:          d,
		inodeSize:  uint64(sb.InodeSize),
		blockShift: 10 + uint64(sb.LogBlockSize),
		mu:         new(sync.Mutex),
		active:     make(map[common.Inum]*Inode),
	}
	fs.blockSize = 1 << fs.blockShift
	fs.sectorsPerBlock = fs.blockSize / device.SectorSize
	fs.blockPagesShift = fs.blockShift
	if fs.blockPagesShift < memory.PageShift {
		fs.blockPagesShift = memory.PageShift
	}
	// The group count is a ceiling: a final partial group still has a
	// descriptor.
	fs.numBlockGroups = util.RoundUp(uint64(sb.BlocksCount), uint64(sb.BlocksPerGroup))
	fs.inodesPerGroup = uint64(sb.InodesPerGroup)

	util.DPrintf(1, "ext2: block size is %d\n", fs.blockSize)
	util.DPrintf(1, "ext2: optional features: %#x, w-required features: %#x, "+
		"r/w-required features: %#x\n",
		sb.FeatureCompat, sb.FeatureRoCompat, sb.FeatureIncompat)

	bgdtBytes := util.RoundUpBytes(fs.numBlockGroups*common.GROUPDESCSZ,
		device.SectorSize)
	bgdtOffset := util.RoundUpBytes(2048, fs.blockSize)
	bgdtBuf := make([]byte, bgdtBytes)
	fs.d.ReadSectors((bgdtOffset>>fs.blockShift)*fs.sectorsPerBlock,
		bgdtBytes/device.SectorSize, bgdtBuf)
	fs.groups = disklayout.ParseGroupDescs(bgdtBuf, fs.numBlockGroups)

	return fs
}

// BlockSize reports the filesystem block size in bytes.
func (fs *FileSystem) BlockSize() uint64 {
	return fs.blockSize
}

// AccessRoot returns a reference to the root directory inode.
func (fs *FileSystem) AccessRoot() *Inode {
	return fs.AccessInode(common.ROOTINUM)
}

// AccessInode returns a reference to inode n, interning it: all holders
// of the same number share one Inode object. The first access installs a
// not-ready inode and starts exactly one initiation task; the caller may
// use the reference immediately, since all operations wait for the inode
// to become ready.
//
// Each returned reference must be dropped with Release.
func (fs *FileSystem) AccessInode(n common.Inum) *Inode {
	if n == common.NULLINUM {
		panic("ext2: access of inode 0")
	}
	fs.mu.Lock()
	in, ok := fs.active[n]
	if ok {
		in.refs++
		fs.mu.Unlock()
		return in
	}
	in = mkInode(fs, n)
	fs.active[n] = in
	fs.mu.Unlock()

	go fs.initiateInode(in)
	return in
}

// Release drops one reference to the inode. When the last reference
// drops, the inode leaves the registry and its memory objects are
// released, which terminates its servicer tasks.
func (in *Inode) Release() {
	fs := in.fs
	fs.mu.Lock()
	if in.refs == 0 {
		panic(fmt.Errorf("ext2: release of dead inode %d", in.Number))
	}
	in.refs--
	last := in.refs == 0
	if last {
		delete(fs.active, in.Number)
	}
	fs.mu.Unlock()

	if last {
		// Initiation may still be in flight; the memory objects exist
		// only once the inode is ready.
		in.waitReady()
		in.frontal.Close()
		in.indirect1.Close()
		in.indirect2.Close()
	}
}
