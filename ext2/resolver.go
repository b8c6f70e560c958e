package ext2

import (
	"fmt"

	"github.com/mit-pdos/go-ext2/common"
	"github.com/mit-pdos/go-ext2/disklayout"
	"github.com/mit-pdos/go-ext2/util"
)

// fuse performs read-fusion over one pointer table: starting at index,
// it counts how many pointers form a physically consecutive run, bounded
// by the table limit and by the remaining request. The run never crosses
// into another pointer table.
func fuse(table []common.Bnum, index uint64, remaining uint64,
	limit uint64) (common.Bnum, uint64) {
	base := table[index]
	n := uint64(1)
	for n < remaining && index+n < limit {
		if table[index+n] != base+common.Bnum(n) {
			break
		}
		n++
	}
	return base, n
}

// readData resolves logical blocks [firstBlock, firstBlock+numBlocks) of
// the inode to physical blocks and reads them into window, fusing
// physically consecutive runs into single device reads.
//
// Logical index ranges select the addressing mode: the first 12 blocks
// are direct; the next blockSize/4 go through the single-indirect block
// (order-1 window slot 0); the next (blockSize/4)^2 go through the
// double-indirect tree (order-2 window). Triple-indirect files are not
// supported.
func (fs *FileSystem) readData(in *Inode, firstBlock uint64, numBlocks uint64,
	window []byte) {
	perIndirect := fs.blockSize / 4
	slotSize := uint64(1) << fs.blockPagesShift

	// Number of blocks addressable by:
	iRange := common.NDIRECT                   // direct pointers only
	sRange := iRange + perIndirect             // plus the single-indirect block
	dRange := sRange + perIndirect*perIndirect // plus the double-indirect tree

	in.waitReady()

	progress := uint64(0)
	for progress < numBlocks {
		index := firstBlock + progress

		var base common.Bnum
		var run uint64
		if index >= dRange {
			panic(fmt.Errorf("ext2: block %d of inode %d needs triple-indirect addressing",
				index, in.Number))
		} else if index >= sRange {
			// The double-indirect tree: one order-2 window slot per
			// second-level block.
			frame := (index - sRange) >> (fs.blockShift - 2)
			localIndex := (index - sRange) & ((1 << (fs.blockShift - 2)) - 1)

			in.indirect2.Lock(frame<<fs.blockPagesShift, slotSize)
			table := in.indirect2.Map(frame<<fs.blockPagesShift, slotSize)
			ptrs := disklayout.DecodePointers(table[:4*perIndirect], perIndirect)
			base, run = fuse(ptrs, localIndex, numBlocks-progress, perIndirect)
		} else if index >= iRange {
			// The single-indirect block, order-1 window slot 0.
			in.indirect1.Lock(0, slotSize)
			table := in.indirect1.Map(0, slotSize)
			ptrs := disklayout.DecodePointers(table[:4*perIndirect], perIndirect)
			base, run = fuse(ptrs, index-iRange, numBlocks-progress, perIndirect)
		} else {
			base, run = fuse(in.direct[:], index, numBlocks-progress, common.NDIRECT)
		}

		if base == common.NULLBNUM {
			panic(fmt.Errorf("ext2: hole at block %d of inode %d in read path",
				index, in.Number))
		}

		util.DPrintf(2, "ext2: inode %d: read %d blocks at %d (block %d/%d)\n",
			in.Number, run, base, progress, numBlocks)
		fs.d.ReadSectors(uint64(base)*fs.sectorsPerBlock, run*fs.sectorsPerBlock,
			window[progress<<fs.blockShift:(progress+run)<<fs.blockShift])
		progress += run
	}
}
