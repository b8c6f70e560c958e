package ext2

import (
	"fmt"

	"github.com/mit-pdos/go-ext2/common"
	"github.com/mit-pdos/go-ext2/disklayout"
	"github.com/mit-pdos/go-ext2/memory"
	"github.com/mit-pdos/go-ext2/util"
)

// manageFileData is the long-running servicer for an inode's file-data
// page cache. Each manage fault names an aligned range of the backing
// object; the servicer resolves the corresponding logical blocks and
// fills the window. Faults are serviced strictly in arrival order and
// never retried. The task ends when the inode's memory objects are
// released.
func (fs *FileSystem) manageFileData(in *Inode, backing *memory.Backing) {
	for {
		f, ok := backing.SubmitManage()
		if !ok {
			return
		}
		if f.Offset+f.Length > memory.RoundUpPage(in.FileSize) {
			panic(fmt.Errorf("ext2: data fault %d+%d past file cache",
				f.Offset, f.Length))
		}
		if f.Offset%fs.blockSize != 0 {
			panic(fmt.Errorf("ext2: data fault at %d not block aligned", f.Offset))
		}

		window := backing.Map(f.Offset, f.Length)

		// Only bytes up to the file size are backed by blocks; a tail
		// page keeps its zero fill.
		readSize := util.Min(f.Length, in.FileSize-f.Offset)
		numBlocks := util.RoundUp(readSize, fs.blockSize)
		if numBlocks*fs.blockSize > f.Length {
			panic(fmt.Errorf("ext2: data fault %d+%d shorter than %d blocks",
				f.Offset, f.Length, numBlocks))
		}

		fs.readData(in, f.Offset>>fs.blockShift, numBlocks, window)
		backing.CompleteLoad(f.Offset, f.Length)
	}
}

// manageIndirect is the long-running servicer for one of an inode's two
// indirection windows. Every fault is exactly one window slot (one
// block, one page); the slot index selects which on-disk indirect block
// backs it:
//
//	order 1: slot 0 is the single-indirect root, slot 1 the
//	double-indirect root, slot 2 the triple-indirect root.
//
//	order 2: slot e is the e-th second-level block reachable through
//	the double-indirect root. Its block number is entry
//	e mod (blockSize/4) of the root, which itself is read through
//	order-1 slot 1 + e/(blockSize/4), faulting that window in turn if
//	needed.
func (fs *FileSystem) manageIndirect(in *Inode, order int, backing *memory.Backing) {
	slotSize := uint64(1) << fs.blockPagesShift
	for {
		f, ok := backing.SubmitManage()
		if !ok {
			return
		}
		// TODO: support multi-page blocks; for now a slot is one page.
		if f.Offset%slotSize != 0 {
			panic(fmt.Errorf("ext2: indirect fault at %d not slot aligned", f.Offset))
		}
		if f.Length != slotSize {
			panic(fmt.Errorf("ext2: indirect fault of %d bytes, want %d",
				f.Length, slotSize))
		}

		element := f.Offset >> fs.blockPagesShift
		util.DPrintf(2, "ext2: inode %d order-%d fault for element %d\n",
			in.Number, order, element)

		var block common.Bnum
		if order == 1 {
			switch element {
			case 0:
				block = in.singleIndirect
			case 1:
				block = in.doubleIndirect
			case 2:
				block = in.tripleIndirect
			default:
				panic(fmt.Errorf("ext2: unexpected order-1 element %d", element))
			}
		} else {
			frame := element >> (fs.blockShift - 2)
			index := element & ((1 << (fs.blockShift - 2)) - 1)

			// Slot 0 of the order-1 window is the single-indirect
			// root; the double-indirect top-level pointers start at
			// slot 1.
			in.indirect1.Lock((1+frame)<<fs.blockPagesShift, slotSize)
			table := in.indirect1.Map((1+frame)<<fs.blockPagesShift, slotSize)
			block = disklayout.DecodePointers(table[4*index:], 1)[0]
		}

		window := backing.Map(f.Offset, f.Length)
		fs.d.ReadSectors(uint64(block)*fs.sectorsPerBlock, fs.sectorsPerBlock,
			window[:fs.blockSize])
		backing.CompleteLoad(f.Offset, f.Length)
	}
}
