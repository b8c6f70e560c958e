// Package disklayout decodes the on-disk ext2 structures. Every field is
// read at its explicit byte offset in little-endian order; structures are
// never blitted.
package disklayout

import (
	"encoding/binary"
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-ext2/common"
)

// SuperblockMagic identifies an ext2 superblock (u16 at offset 56).
const SuperblockMagic uint16 = 0xEF53

// SuperblockOffset is the byte offset of the superblock on the device.
const SuperblockOffset uint64 = 1024

// Superblock holds the fields the driver consumes, plus the
// informational feature flags.
type Superblock struct {
	BlocksCount    uint32
	LogBlockSize   uint32
	BlocksPerGroup uint32
	InodesPerGroup uint32
	Magic          uint16
	InodeSize      uint16

	FeatureCompat   uint32
	FeatureIncompat uint32
	FeatureRoCompat uint32
}

// ParseSuperblock decodes the 1 KiB superblock image.
func ParseSuperblock(b []byte) Superblock {
	return Superblock{
		BlocksCount:     binary.LittleEndian.Uint32(b[4:]),
		LogBlockSize:    binary.LittleEndian.Uint32(b[24:]),
		BlocksPerGroup:  binary.LittleEndian.Uint32(b[32:]),
		InodesPerGroup:  binary.LittleEndian.Uint32(b[40:]),
		Magic:           binary.LittleEndian.Uint16(b[56:]),
		InodeSize:       binary.LittleEndian.Uint16(b[88:]),
		FeatureCompat:   binary.LittleEndian.Uint32(b[92:]),
		FeatureIncompat: binary.LittleEndian.Uint32(b[96:]),
		FeatureRoCompat: binary.LittleEndian.Uint32(b[100:]),
	}
}

// GroupDesc is a 32-byte block group descriptor; the inode table start
// block is the only field this driver consumes.
type GroupDesc struct {
	InodeTable common.Bnum
}

// ParseGroupDescs decodes n descriptors from the descriptor table image.
func ParseGroupDescs(b []byte, n uint64) []GroupDesc {
	descs := make([]GroupDesc, 0, n)
	for i := uint64(0); i < n; i++ {
		rec := b[i*common.GROUPDESCSZ:]
		descs = append(descs, GroupDesc{
			InodeTable: common.Bnum(binary.LittleEndian.Uint32(rec[8:])),
		})
	}
	return descs
}

// Inode file-type bits of the mode field.
const (
	ModeTypeMask uint16 = 0xF000

	modeRegular   uint16 = 0x8000
	modeSymlink   uint16 = 0xA000
	modeDirectory uint16 = 0x4000

	// ModePermMask extracts the permission bits surfaced to callers.
	ModePermMask uint16 = 0x0FFF
)

// Inode is the decoded on-disk inode record.
type Inode struct {
	Mode       uint16
	Uid        uint16
	Size       uint32
	Atime      uint32
	Ctime      uint32
	Mtime      uint32
	Gid        uint16
	LinksCount uint16

	// Block pointer array: Direct[0..12), then the three indirection
	// roots.
	Direct         [common.NDIRECT]common.Bnum
	SingleIndirect common.Bnum
	DoubleIndirect common.Bnum
	TripleIndirect common.Bnum
}

// Type classifies the inode. ok is false for types this driver does not
// handle.
func (in Inode) Type() (common.Ftype, bool) {
	switch in.Mode & ModeTypeMask {
	case modeRegular:
		return common.TypeRegular, true
	case modeSymlink:
		return common.TypeSymlink, true
	case modeDirectory:
		return common.TypeDirectory, true
	default:
		return common.TypeNone, false
	}
}

// ParseInode decodes one inode record.
func ParseInode(b []byte) Inode {
	in := Inode{
		Mode:       binary.LittleEndian.Uint16(b[0:]),
		Uid:        binary.LittleEndian.Uint16(b[2:]),
		Size:       binary.LittleEndian.Uint32(b[4:]),
		Atime:      binary.LittleEndian.Uint32(b[8:]),
		Ctime:      binary.LittleEndian.Uint32(b[12:]),
		Mtime:      binary.LittleEndian.Uint32(b[16:]),
		Gid:        binary.LittleEndian.Uint16(b[24:]),
		LinksCount: binary.LittleEndian.Uint16(b[26:]),
	}
	ptrs := DecodePointers(b[40:], common.NDIRECT+3)
	for i := uint64(0); i < common.NDIRECT; i++ {
		in.Direct[i] = ptrs[i]
	}
	in.SingleIndirect = ptrs[common.NDIRECT]
	in.DoubleIndirect = ptrs[common.NDIRECT+1]
	in.TripleIndirect = ptrs[common.NDIRECT+2]
	return in
}

// DecodePointers decodes n consecutive u32 block pointers, as found in
// the inode's pointer array and in indirect blocks.
func DecodePointers(b []byte, n uint64) []common.Bnum {
	dec := marshal.NewDec(b[:4*n:4*n])
	ptrs := make([]common.Bnum, 0, n)
	for i := uint64(0); i < n; i++ {
		ptrs = append(ptrs, common.Bnum(dec.GetInt32()))
	}
	return ptrs
}

// Directory entry file-type codes.
const (
	direntTypeRegular   uint8 = 1
	direntTypeDirectory uint8 = 2
	direntTypeSymlink   uint8 = 7
)

// DirEntHdrSize is the fixed header before the name bytes.
const DirEntHdrSize uint64 = 8

// DirEnt is a decoded variable-length directory record. RecLen is the
// advance to the next record.
type DirEnt struct {
	Inode    common.Inum
	RecLen   uint16
	FileType uint8
	Name     string
}

// Kind maps the on-disk file-type byte to the caller-facing type;
// unknown codes decode as none.
func (e DirEnt) Kind() common.Ftype {
	switch e.FileType {
	case direntTypeRegular:
		return common.TypeRegular
	case direntTypeDirectory:
		return common.TypeDirectory
	case direntTypeSymlink:
		return common.TypeSymlink
	default:
		return common.TypeNone
	}
}

// ParseDirEnt decodes the record at the start of b, where b extends to
// the end of the directory. A record that does not fit in b or whose
// record length cannot cover its header and name is a fatal integrity
// error.
func ParseDirEnt(b []byte) DirEnt {
	if uint64(len(b)) < DirEntHdrSize {
		panic(fmt.Errorf("disklayout: truncated dirent header: %d bytes", len(b)))
	}
	recLen := binary.LittleEndian.Uint16(b[4:])
	nameLen := b[6]
	if uint64(recLen) < DirEntHdrSize+uint64(nameLen) {
		panic(fmt.Errorf("disklayout: dirent record length %d too small for name length %d",
			recLen, nameLen))
	}
	if uint64(recLen) > uint64(len(b)) {
		panic(fmt.Errorf("disklayout: dirent record length %d overruns directory (%d left)",
			recLen, len(b)))
	}
	return DirEnt{
		Inode:    common.Inum(binary.LittleEndian.Uint32(b[0:])),
		RecLen:   recLen,
		FileType: b[7],
		Name:     string(b[DirEntHdrSize : DirEntHdrSize+uint64(nameLen)]),
	}
}
