package util

import "log"

const Debug uint64 = 0

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		log.Printf(format, a...)
	}
}

// RoundUp rounds n up to a multiple of sz, in units of sz.
func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

// RoundUpBytes rounds n up to a multiple of sz, in bytes.
func RoundUpBytes(n uint64, sz uint64) uint64 {
	return RoundUp(n, sz) * sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

func SumOverflows(x uint64, y uint64) bool {
	return x+y < x
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
