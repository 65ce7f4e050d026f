package spec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
)

// Entry addresses a run of tiles in the data section, or a leaf directory
// when RunLength is zero.
type Entry struct {
	TileCode  uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

var ErrInvalidDirectory = errors.New("pm: invalid directory")

// SerializeDirectory encodes entries column by column: delta tile codes,
// run lengths, lengths, then offsets where 0 means "directly after the
// previous entry" and any other value is offset+1.
func SerializeDirectory(entries []Entry) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(entries)))

	var prevCode uint64
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, e.TileCode-prevCode)
		prevCode = e.TileCode
	}
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, uint64(e.RunLength))
	}
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			buf = binary.AppendUvarint(buf, 0)
		} else {
			buf = binary.AppendUvarint(buf, e.Offset+1)
		}
	}
	return buf
}

func DeserializeDirectory(data []byte) ([]Entry, error) {
	r := bytes.NewReader(data)
	var err error
	next := func() uint64 {
		if err != nil {
			return 0
		}
		var v uint64
		v, err = binary.ReadUvarint(r)
		return v
	}

	n := next()
	// Every entry takes at least four bytes.
	if err == nil && n > uint64(len(data))/4 {
		return nil, fmt.Errorf("%w: %d entries in %d bytes", ErrInvalidDirectory, n, len(data))
	}
	entries := make([]Entry, n)

	var code uint64
	for i := range entries {
		code += next()
		entries[i].TileCode = code
	}
	for i := range entries {
		entries[i].RunLength = uint32(next())
	}
	for i := range entries {
		entries[i].Length = uint32(next())
	}
	for i := range entries {
		v := next()
		switch {
		case v == 0 && i > 0:
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		case v == 0:
			if err == nil {
				err = errors.New("first entry has no offset")
			}
		default:
			entries[i].Offset = v - 1
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDirectory, err)
	}
	return entries, nil
}

// CompactEntries merges consecutive tile codes pointing at the same data
// into runs, in place. Entries must be sorted by tile code.
func CompactEntries(entries []Entry) []Entry {
	if len(entries) == 0 {
		return entries
	}
	out := entries[:1]
	for _, e := range entries[1:] {
		last := &out[len(out)-1]
		if e.Offset == last.Offset && e.TileCode == last.TileCode+uint64(last.RunLength) {
			last.RunLength++
			continue
		}
		out = append(out, e)
	}
	return out
}

// FindEntry returns the entry holding tileCode, or the leaf directory entry
// that may hold it.
func FindEntry(entries []Entry, tileCode uint64) (Entry, bool) {
	i, found := slices.BinarySearchFunc(entries, tileCode, func(e Entry, code uint64) int {
		switch {
		case e.TileCode < code:
			return -1
		case e.TileCode > code:
			return 1
		}
		return 0
	})
	if !found {
		if i == 0 {
			return Entry{}, false
		}
		i--
	}
	e := entries[i]
	if e.RunLength == 0 || tileCode < e.TileCode+uint64(e.RunLength) {
		return e, true
	}
	return Entry{}, false
}

// SerializeAll encodes entries as a root directory, splitting them into leaf
// directories until the compressed root fits RootDirMaxLength. It returns
// the compressed root and the concatenated compressed leaves.
func SerializeAll(entries []Entry, compression Compression) (root, leaves []byte, err error) {
	root, err = Compress(SerializeDirectory(entries), compression)
	if err != nil || len(root) <= RootDirMaxLength {
		return root, nil, err
	}

	// Size leaves from the average compressed entry so the first attempt
	// usually fits, then grow them by 10% per retry.
	perEntry := float64(len(root)) / float64(len(entries))
	maxRootEntries := float64(RootDirMaxLength) * 0.9 / perEntry
	leafSize := max(float64(len(entries))/maxRootEntries, 4096, math.Sqrt(float64(len(entries))))

	for ; len(root) > RootDirMaxLength; leafSize *= 1.1 {
		var rootEntries []Entry
		leaves = leaves[:0]
		for chunk := range slices.Chunk(entries, int(leafSize)) {
			leaf, err := Compress(SerializeDirectory(chunk), compression)
			if err != nil {
				return nil, nil, err
			}
			rootEntries = append(rootEntries, Entry{
				TileCode: chunk[0].TileCode,
				Offset:   uint64(len(leaves)),
				Length:   uint32(len(leaf)),
			})
			leaves = append(leaves, leaf...)
		}
		if root, err = Compress(SerializeDirectory(rootEntries), compression); err != nil {
			return nil, nil, err
		}
	}
	return root, leaves, nil
}
