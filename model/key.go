package model

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/zeebo/xxh3"
)

// PageKey identifies an in-memory page: the tree (file) it belongs to and its address inside that tree.
type PageKey struct {
	Tree string
	Addr uint64
}

func NewPageKey(tree string, addr uint64) PageKey {
	return PageKey{Tree: tree, Addr: addr}
}

func (k PageKey) String() string {
	return fmt.Sprintf("%s@%d", k.Tree, k.Addr)
}

var hasherPool = sync.Pool{New: func() any { return xxh3.New() }}

// Hash returns a 64-bit fingerprint of the key, stable across processes.
func (k PageKey) Hash() uint64 {
	hasher := hasherPool.Get().(*xxh3.Hasher)
	hasher.Reset()

	var addr [8]byte
	binary.LittleEndian.PutUint64(addr[:], k.Addr)
	_, _ = hasher.WriteString(k.Tree)
	_, _ = hasher.Write(addr[:])
	sum := hasher.Sum64()

	hasherPool.Put(hasher)
	return sum
}
