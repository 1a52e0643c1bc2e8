package main

import "testing"

func TestMT19937_64_StandardCheckValue(t *testing.T) {
	// The C++ standard pins mt19937_64: the 10000th consecutive
	// invocation of a default-constructed engine (seed 5489) must
	// produce 9981545732273789042. The quorum shuffle depends on this
	// exact stream, so the engine is checked against it here.
	r := newMT19937(5489)

	var v uint64
	for i := 0; i < 10000; i++ {
		v = r.next()
	}

	const want = uint64(9981545732273789042)
	if v != want {
		t.Fatalf("10000th output = %d, want %d", v, want)
	}
}

func TestMT19937_64_SeedChangesStream(t *testing.T) {
	a := newMT19937(1)
	b := newMT19937(2)
	if a.next() == b.next() {
		t.Fatalf("different seeds produced identical first outputs")
	}

	c := newMT19937(1)
	d := newMT19937(1)
	for i := 0; i < 1000; i++ {
		if got, want := c.next(), d.next(); got != want {
			t.Fatalf("same seed diverged at output %d: %d != %d", i, got, want)
		}
	}
}

func TestUniform_StaysInBound(t *testing.T) {
	r := newMT19937(42)
	for _, bound := range []uint64{1, 2, 3, 7, 10, 100, 1 << 33} {
		for i := 0; i < 1000; i++ {
			if v := r.uniform(bound); v >= bound {
				t.Fatalf("uniform(%d) = %d", bound, v)
			}
		}
	}
}

func TestShuffle_IsAPermutationAndDeterministic(t *testing.T) {
	const n = 50

	indexes := make([]int, n)
	for i := range indexes {
		indexes[i] = i
	}
	newMT19937(7).shuffle(indexes)

	seen := make(map[int]bool, n)
	for _, v := range indexes {
		if v < 0 || v >= n || seen[v] {
			t.Fatalf("shuffle result is not a permutation: %v", indexes)
		}
		seen[v] = true
	}

	again := make([]int, n)
	for i := range again {
		again[i] = i
	}
	newMT19937(7).shuffle(again)
	for i := range again {
		if again[i] != indexes[i] {
			t.Fatalf("same seed produced different shuffles at %d", i)
		}
	}
}
