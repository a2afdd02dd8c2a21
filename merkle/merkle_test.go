package merkle

import (
	"encoding/hex"
	"strings"
	"testing"

	"justifai.co/issuance/hashkit"
)

func leafHex(first byte) string {
	return strings.Repeat(string([]byte{first, '0'}), 32)
}

func mustBuildHex(t *testing.T, leaves []string) *Tree {
	t.Helper()
	tr, err := BuildHex(leaves)
	if err != nil {
		t.Fatalf("BuildHex: %v", err)
	}
	return tr
}

func TestSingleLeafTree(t *testing.T) {
	leaf := hashkit.Keccak256Hex([]byte("only"))
	tr := mustBuildHex(t, []string{leaf})
	if tr.RootHex() != leaf {
		t.Fatal("single-leaf root must equal the leaf")
	}
	proof, err := tr.ProofHex(leaf)
	if err != nil {
		t.Fatalf("ProofHex: %v", err)
	}
	if len(proof) != 0 {
		t.Fatalf("single-leaf proof length = %d, want 0", len(proof))
	}
	if !VerifyHex(leaf, nil, leaf) {
		t.Fatal("empty proof with leaf == root must verify")
	}
}

func TestTwoLeafRootIsSortedPairHash(t *testing.T) {
	l1 := hashkit.Keccak256([]byte("L1"))
	l2 := hashkit.Keccak256([]byte("L2"))
	tr, err := Build([][]byte{l1, l2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	lo, hi := l1, l2
	if string(lo) > string(hi) {
		lo, hi = hi, lo
	}
	want := hashkit.Keccak256Hex(lo, hi)
	if tr.RootHex() != want {
		t.Fatalf("root = %s, want keccak(min||max) = %s", tr.RootHex(), want)
	}
	// Leaf order must not affect the root thanks to sorted pairs.
	rev, err := Build([][]byte{l2, l1})
	if err != nil {
		t.Fatalf("Build reversed: %v", err)
	}
	if rev.RootHex() != want {
		t.Fatal("two-leaf root depends on leaf order")
	}
}

func TestFiveLeafProof(t *testing.T) {
	leaves := []string{leafHex('a'), leafHex('b'), leafHex('c'), leafHex('d'), leafHex('e')}
	tr := mustBuildHex(t, leaves)

	proof, err := tr.ProofHex(leaves[2])
	if err != nil {
		t.Fatalf("ProofHex: %v", err)
	}
	if len(proof) != 3 {
		t.Fatalf("proof length = %d, want 3", len(proof))
	}
	if !VerifyHex(leaves[2], proof, tr.RootHex()) {
		t.Fatal("valid proof rejected")
	}
	if VerifyHex(leafHex('f'), proof, tr.RootHex()) {
		t.Fatal("substituted leaf verified")
	}

	// Every leaf must prove against the root.
	for _, l := range leaves {
		p, err := tr.ProofHex(l)
		if err != nil {
			t.Fatalf("ProofHex(%s): %v", l[:2], err)
		}
		if !VerifyHex(l, p, tr.RootHex()) {
			t.Fatalf("proof for %s rejected", l[:2])
		}
	}
}

func TestOddLeafDuplication(t *testing.T) {
	// Three leaves: the third pairs with itself at the first layer.
	a := hashkit.Keccak256([]byte("a"))
	b := hashkit.Keccak256([]byte("b"))
	c := hashkit.Keccak256([]byte("c"))
	tr, err := Build([][]byte{a, b, c})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ab := hashPair(a, b)
	cc := hashPair(c, c)
	if tr.RootHex() != hex.EncodeToString(hashPair(ab, cc)) {
		t.Fatal("odd layer did not duplicate its last node")
	}
	proof, err := tr.Proof(2)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if !Verify(c, proof, tr.Root()) {
		t.Fatal("duplicated-leaf proof rejected")
	}
}

func TestBuildUltimatePadsSingleRoot(t *testing.T) {
	mri := hashkit.Keccak256Hex([]byte("the only batch"))
	tr, err := BuildUltimate([]string{mri})
	if err != nil {
		t.Fatalf("BuildUltimate: %v", err)
	}
	if tr.LeafCount() != 2 {
		t.Fatalf("padded tree has %d leaves, want 2", tr.LeafCount())
	}
	proof, err := tr.ProofHex(mri)
	if err != nil {
		t.Fatalf("ProofHex: %v", err)
	}
	if len(proof) != 1 {
		t.Fatalf("padded proof length = %d, want 1", len(proof))
	}
	raw, _ := hex.DecodeString(mri)
	if proof[0] != hashkit.Keccak256Hex(raw) {
		t.Fatal("padding sibling must be keccak256(MRI)")
	}
	if !VerifyHex(mri, proof, tr.RootHex()) {
		t.Fatal("padded proof rejected")
	}
}

func TestBuildUltimateMultipleRoots(t *testing.T) {
	roots := []string{
		hashkit.Keccak256Hex([]byte("batch-1")),
		hashkit.Keccak256Hex([]byte("batch-2")),
		hashkit.Keccak256Hex([]byte("batch-3")),
	}
	tr, err := BuildUltimate(roots)
	if err != nil {
		t.Fatalf("BuildUltimate: %v", err)
	}
	if tr.LeafCount() != 3 {
		t.Fatalf("leaf count = %d, want 3 (no padding)", tr.LeafCount())
	}
	for _, r := range roots {
		p, err := tr.ProofHex(r)
		if err != nil {
			t.Fatalf("ProofHex: %v", err)
		}
		if !VerifyHex(r, p, tr.RootHex()) {
			t.Fatalf("ultimate proof for %s rejected", r[:8])
		}
	}
}

func TestBuildRejectsBadLeaves(t *testing.T) {
	if _, err := Build(nil); err == nil {
		t.Fatal("empty leaf set accepted")
	}
	if _, err := Build([][]byte{make([]byte, 31)}); err == nil {
		t.Fatal("31-byte leaf accepted")
	}
	if _, err := BuildHex([]string{"zz"}); err == nil {
		t.Fatal("non-hex leaf accepted")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	leaf := hashkit.Keccak256([]byte("l"))
	if Verify(leaf[:31], nil, leaf) {
		t.Fatal("short leaf verified")
	}
	if Verify(leaf, [][]byte{make([]byte, 16)}, leaf) {
		t.Fatal("short sibling verified")
	}
}
