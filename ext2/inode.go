package ext2

import (
	"fmt"
	"sync"
	"time"

	"github.com/mit-pdos/go-ext2/common"
	"github.com/mit-pdos/go-ext2/device"
	"github.com/mit-pdos/go-ext2/disklayout"
	"github.com/mit-pdos/go-ext2/memory"
	"github.com/mit-pdos/go-ext2/util"
)

// Inode is an interned, reference-counted filesystem object. Apart from
// Number, its fields become observable only after the one-shot ready
// latch fires; every operation waits on the latch first. After that the
// fields are stable for the inode's lifetime (only memory-object
// contents change, as pages fault in).
type Inode struct {
	fs     *FileSystem
	Number common.Inum

	mu        *sync.Mutex
	condReady *sync.Cond
	ready     bool

	refs uint64 // guarded by fs.mu

	FileType common.Ftype
	FileSize uint64
	Mode     uint16
	NumLinks uint16
	Uid      uint16
	Gid      uint16
	Atime    time.Time
	Mtime    time.Time
	Ctime    time.Time

	direct         [common.NDIRECT]common.Bnum
	singleIndirect common.Bnum
	doubleIndirect common.Bnum
	tripleIndirect common.Bnum

	// File contents page cache. frontal is the public read channel;
	// the data servicer fills pages through its backing side.
	frontal *memory.Frontal

	// Indirection windows. Order 1 caches the three indirection root
	// blocks at slots 0..2; order 2 caches every second-level block
	// reachable through the double-indirect root, one slot per block.
	indirect1 *memory.Frontal
	indirect2 *memory.Frontal
}

func mkInode(fs *FileSystem, n common.Inum) *Inode {
	mu := new(sync.Mutex)
	return &Inode{
		fs:        fs,
		Number:    n,
		mu:        mu,
		condReady: sync.NewCond(mu),
		refs:      1,
	}
}

func (in *Inode) waitReady() {
	in.mu.Lock()
	for !in.ready {
		in.condReady.Wait()
	}
	in.mu.Unlock()
}

// Frontal exposes the file's page cache; callers lock a range and map it
// to read file bytes.
func (in *Inode) Frontal() *memory.Frontal {
	in.waitReady()
	return in.frontal
}

// initiateInode is the one-shot task that populates a freshly interned
// inode from the on-disk inode table and starts its servicer tasks.
func (fs *FileSystem) initiateInode(in *Inode) {
	n := uint64(in.Number)
	group := (n - 1) / fs.inodesPerGroup
	index := (n - 1) % fs.inodesPerGroup
	offset := index * fs.inodeSize
	if group >= fs.numBlockGroups {
		panic(fmt.Errorf("ext2: inode %d beyond last block group", n))
	}

	// One sector suffices: inode records divide the sector evenly.
	sector := uint64(fs.groups[group].InodeTable)*fs.sectorsPerBlock +
		offset/device.SectorSize
	buf := make([]byte, device.SectorSize)
	fs.d.ReadSectors(sector, 1, buf)
	rec := disklayout.ParseInode(buf[offset%device.SectorSize:])

	fileType, ok := rec.Type()
	if !ok {
		panic(fmt.Errorf("ext2: unexpected inode type %#x for inode %d",
			rec.Mode&disklayout.ModeTypeMask, n))
	}

	in.FileType = fileType
	in.FileSize = uint64(rec.Size)
	in.direct = rec.Direct
	in.singleIndirect = rec.SingleIndirect
	in.doubleIndirect = rec.DoubleIndirect
	in.tripleIndirect = rec.TripleIndirect
	in.Mode = rec.Mode & disklayout.ModePermMask
	in.NumLinks = rec.LinksCount
	in.Uid = rec.Uid
	in.Gid = rec.Gid
	in.Atime = time.Unix(int64(rec.Atime), 0)
	in.Mtime = time.Unix(int64(rec.Mtime), 0)
	in.Ctime = time.Unix(int64(rec.Ctime), 0)

	util.DPrintf(2, "ext2: inode %d: %v, %d bytes\n", n, fileType, in.FileSize)

	// Page cache for the file contents.
	backing, frontal := memory.Create(memory.RoundUpPage(in.FileSize))
	in.frontal = frontal

	// Indirection windows.
	backing1, frontal1 := memory.Create(3 << fs.blockPagesShift)
	backing2, frontal2 := memory.Create((fs.blockSize / 4) << fs.blockPagesShift)
	in.indirect1 = frontal1
	in.indirect2 = frontal2

	go fs.manageFileData(in, backing)
	go fs.manageIndirect(in, 1, backing1)
	go fs.manageIndirect(in, 2, backing2)

	in.mu.Lock()
	in.ready = true
	in.condReady.Broadcast()
	in.mu.Unlock()
}

// DirEntry is the result of a directory lookup.
type DirEntry struct {
	Inode common.Inum
	Kind  common.Ftype
}

// FindEntry scans the directory for name and returns its entry, or false
// when the directory has no such name. Looking up "", "." or ".." is a
// caller error.
//
// The whole directory is locked into the page cache before the scan, so
// one manage fault populates it end to end.
func (in *Inode) FindEntry(name string) (DirEntry, bool) {
	if name == "" || name == "." || name == ".." {
		panic(fmt.Errorf("ext2: bad lookup name %q", name))
	}
	in.waitReady()

	mapSize := memory.RoundUpPage(in.FileSize)
	in.frontal.Lock(0, mapSize)
	window := in.frontal.Map(0, mapSize)

	offset := uint64(0)
	for offset < in.FileSize {
		ent := disklayout.ParseDirEnt(window[offset:in.FileSize])
		if ent.Name == name {
			return DirEntry{Inode: ent.Inode, Kind: ent.Kind()}, true
		}
		offset += uint64(ent.RecLen)
	}
	if offset != in.FileSize {
		panic(fmt.Errorf("ext2: directory %d does not end on a record boundary",
			in.Number))
	}
	return DirEntry{}, false
}

// OpenFile is a sequential read cursor over a directory inode.
type OpenFile struct {
	inode  *Inode
	offset uint64
}

// MkOpenFile opens a directory for iteration. The cursor shares the
// caller's inode reference.
func MkOpenFile(in *Inode) *OpenFile {
	return &OpenFile{inode: in}
}

// ReadEntries returns the next record's name and advances the cursor.
// Returns false at end of stream, with the cursor exactly at the
// directory's size.
func (of *OpenFile) ReadEntries() (string, bool) {
	in := of.inode
	in.waitReady()

	if of.offset > in.FileSize {
		panic(fmt.Errorf("ext2: directory cursor %d past size %d",
			of.offset, in.FileSize))
	}
	if of.offset == in.FileSize {
		return "", false
	}

	mapSize := memory.RoundUpPage(in.FileSize)
	in.frontal.Lock(0, mapSize)
	window := in.frontal.Map(0, mapSize)

	ent := disklayout.ParseDirEnt(window[of.offset:in.FileSize])
	of.offset += uint64(ent.RecLen)
	return ent.Name, true
}
