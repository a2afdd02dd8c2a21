// Package merkle implements the two-level commitment trees of the issuance
// pipeline using sorted-pair hashing:
//
//	node(a, b) = keccak256(min(a,b) || max(a,b))
//
// Because siblings are sorted before hashing, proofs carry no position flags;
// a proof is just an ordered list of 32-byte siblings. The QR payload relies
// on this property.
package merkle

import (
	"bytes"
	"encoding/hex"

	"justifai.co/issuance/hashkit"
	"justifai.co/issuance/model"
)

// Tree is an immutable Merkle tree over 32-byte leaves. Levels[0] is the
// leaf layer; the last level holds the single root.
type Tree struct {
	levels [][][]byte
}

// hashPair hashes the sorted concatenation of two nodes.
func hashPair(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	return hashkit.Keccak256(a, b)
}

// Build constructs a tree over the given leaves, in order. Odd layers
// duplicate their last node. A single-leaf tree's root is the leaf itself.
func Build(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, model.NewError(model.KindMerkle, "JF-MERKLE-001", "cannot build a tree over zero leaves")
	}
	base := make([][]byte, len(leaves))
	for i, l := range leaves {
		if len(l) != hashkit.HashSize {
			return nil, model.NewError(model.KindMerkle, "JF-MERKLE-002", "leaves must be 32 bytes")
		}
		base[i] = append([]byte(nil), l...)
	}
	levels := [][][]byte{base}
	for len(levels[len(levels)-1]) > 1 {
		cur := levels[len(levels)-1]
		next := make([][]byte, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 < len(cur) {
				next = append(next, hashPair(cur[i], cur[i+1]))
			} else {
				next = append(next, hashPair(cur[i], cur[i]))
			}
		}
		levels = append(levels, next)
	}
	return &Tree{levels: levels}, nil
}

// BuildHex is Build over lowercase-hex leaves.
func BuildHex(leafHex []string) (*Tree, error) {
	leaves := make([][]byte, len(leafHex))
	for i, h := range leafHex {
		raw, err := hashkit.DecodeHex(h)
		if err != nil {
			return nil, err
		}
		leaves[i] = raw
	}
	return Build(leaves)
}

// Root returns the tree root.
func (t *Tree) Root() []byte {
	top := t.levels[len(t.levels)-1]
	return append([]byte(nil), top[0]...)
}

// RootHex returns the root as lowercase hex.
func (t *Tree) RootHex() string {
	return hex.EncodeToString(t.Root())
}

// LeafCount returns the number of leaves the tree was built over.
func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Proof returns the sibling path for the leaf at index. For a single-leaf
// tree the proof is empty.
func (t *Tree) Proof(index int) ([][]byte, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, model.NewError(model.KindMerkle, "JF-MERKLE-003", "leaf index out of range")
	}
	var proof [][]byte
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		sibling := index ^ 1
		if sibling >= len(nodes) {
			// Odd layer: the last node pairs with itself.
			sibling = index
		}
		proof = append(proof, append([]byte(nil), nodes[sibling]...))
		index /= 2
	}
	return proof, nil
}

// ProofHex returns the sibling path for the given hex leaf. When the leaf
// occurs more than once the first occurrence is proven.
func (t *Tree) ProofHex(leafHex string) ([]string, error) {
	raw, err := hashkit.DecodeHex(leafHex)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, l := range t.levels[0] {
		if bytes.Equal(l, raw) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, model.NewError(model.KindMerkle, "JF-MERKLE-004", "leaf not present in tree")
	}
	proof, err := t.Proof(idx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(proof))
	for i, p := range proof {
		out[i] = hex.EncodeToString(p)
	}
	return out, nil
}

// Verify recomputes the root from leaf and proof. An empty proof verifies
// iff leaf == root (single-leaf trees, and MRI == MRU ultimate sets).
func Verify(leaf []byte, proof [][]byte, root []byte) bool {
	if len(leaf) != hashkit.HashSize || len(root) != hashkit.HashSize {
		return false
	}
	running := append([]byte(nil), leaf...)
	for _, sibling := range proof {
		if len(sibling) != hashkit.HashSize {
			return false
		}
		running = hashPair(running, sibling)
	}
	return bytes.Equal(running, root)
}

// VerifyHex is Verify over lowercase-hex values.
func VerifyHex(leafHex string, proofHex []string, rootHex string) bool {
	leaf, err := hashkit.DecodeHex(leafHex)
	if err != nil {
		return false
	}
	root, err := hashkit.DecodeHex(rootHex)
	if err != nil {
		return false
	}
	proof := make([][]byte, len(proofHex))
	for i, p := range proofHex {
		raw, err := hashkit.DecodeHex(p)
		if err != nil {
			return false
		}
		proof[i] = raw
	}
	return Verify(leaf, proof, root)
}

// BuildUltimate constructs the cross-batch tree over intermediate roots.
//
// A one-root set is padded with keccak256(MRI) to force a two-leaf tree, so
// the ultimate proof is never empty when exactly one batch anchors. The
// returned tree proves each original root at its input index.
func BuildUltimate(rootsHex []string) (*Tree, error) {
	if len(rootsHex) == 0 {
		return nil, model.NewError(model.KindMerkle, "JF-MERKLE-005", "no intermediate roots to anchor")
	}
	leaves := make([][]byte, 0, len(rootsHex)+1)
	for _, h := range rootsHex {
		raw, err := hashkit.DecodeHex(h)
		if err != nil {
			return nil, err
		}
		if len(raw) != hashkit.HashSize {
			return nil, model.NewError(model.KindMerkle, "JF-MERKLE-002", "leaves must be 32 bytes")
		}
		leaves = append(leaves, raw)
	}
	if len(leaves) == 1 {
		leaves = append(leaves, hashkit.Keccak256(leaves[0]))
	}
	return Build(leaves)
}
