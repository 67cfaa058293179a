package dataset

import (
	"crypto/md5"
	"encoding/binary"
	"io"
	"math"
)

// HashSplit deterministically partitions the indices
// 0 through n-1 by hashing each example.
//
// The leftRatio argument specifies the expected fraction
// of indices that should end up on the left partition.
func HashSplit(n int, hash func(i int) []byte, leftRatio float64) (left, right []int) {
	if leftRatio == 0 {
		return nil, rangeIndices(n)
	} else if leftRatio == 1 {
		return rangeIndices(n), nil
	}
	cutoff := hashCutoff(leftRatio)
	for i := 0; i < n; i++ {
		if compareHashes(hash(i), cutoff) < 0 {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return
}

// hashFloats hashes a feature vector.
func hashFloats(vals []float64) []byte {
	h := md5.New()
	temp := make([]byte, 8)
	for _, x := range vals {
		writeFloatBits(h, temp, x)
	}
	return h.Sum(nil)
}

func rangeIndices(n int) []int {
	res := make([]int, n)
	for i := range res {
		res[i] = i
	}
	return res
}

func hashCutoff(ratio float64) []byte {
	res := make([]byte, 8)
	for i := range res {
		ratio *= 256
		value := int(ratio)
		ratio -= float64(value)
		if value == 256 {
			value = 255
		}
		res[i] = byte(value)
	}
	return res
}

func compareHashes(h1, h2 []byte) int {
	max := len(h1)
	if len(h2) > max {
		max = len(h2)
	}
	for i := 0; i < max; i++ {
		var h1Val, h2Val byte
		if i < len(h1) {
			h1Val = h1[i]
		}
		if i < len(h2) {
			h2Val = h2[i]
		}
		if h1Val < h2Val {
			return -1
		} else if h1Val > h2Val {
			return 1
		}
	}
	return 0
}

func writeFloatBits(w io.Writer, temp []byte, val float64) {
	binary.BigEndian.PutUint64(temp, math.Float64bits(val))
	w.Write(temp)
}
