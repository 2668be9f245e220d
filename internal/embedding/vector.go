// Package embedding provides fixed-dimension float32 vector primitives:
// similarity metrics, normalization, weighted averaging, and the binary
// and base64 wire codecs shared by the stores.
package embedding

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/loomworks/loom/internal/errors"
)

// Vector is an ordered sequence of 32-bit floats of fixed dimension.
type Vector []float32

// Dimensions returns the vector dimension.
func (v Vector) Dimensions() int {
	return len(v)
}

// Norm returns the Euclidean (L2) norm. Norms are cheap to recompute but
// callers on hot paths should cache them (see vectorstore's norm cache).
func (v Vector) Norm() float64 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	return math.Sqrt(sumSquares)
}

// checkDimensions returns a validation error unless a and b have equal length.
func checkDimensions(a, b Vector) error {
	if len(a) != len(b) {
		return errors.ValidationError(
			fmt.Sprintf("dimension mismatch: %d vs %d", len(a), len(b)), "embedding")
	}
	return nil
}

// Dot returns the inner product of two equal-dimension vectors.
func Dot(a, b Vector) (float64, error) {
	if err := checkDimensions(a, b); err != nil {
		return 0, err
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum, nil
}

// Cosine returns the cosine similarity of two vectors, in [-1, 1].
// Returns 0 when either vector has zero norm.
func Cosine(a, b Vector) (float64, error) {
	if err := checkDimensions(a, b); err != nil {
		return 0, err
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// CosineWithNorms computes cosine similarity using pre-computed norms.
// Used by stores that cache per-vector norms.
func CosineWithNorms(a, b Vector, normA, normB float64) (float64, error) {
	if err := checkDimensions(a, b); err != nil {
		return 0, err
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB), nil
}

// Euclidean returns the L2 distance between two vectors.
func Euclidean(a, b Vector) (float64, error) {
	if err := checkDimensions(a, b); err != nil {
		return 0, err
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Normalize returns a unit-length copy of v.
// A zero vector normalizes to a zero vector.
func Normalize(v Vector) Vector {
	norm := v.Norm()
	out := make(Vector, len(v))
	if norm == 0 {
		return out
	}
	for i, val := range v {
		out[i] = float32(float64(val) / norm)
	}
	return out
}

// Average computes the weighted average of a set of equal-dimension vectors.
// A nil weights slice means equal weights. Weights are normalized by their
// sum, so only their ratios matter.
func Average(vs []Vector, weights []float64) (Vector, error) {
	if len(vs) == 0 {
		return nil, errors.ValidationError("cannot average zero vectors", "embeddings")
	}
	if weights != nil && len(weights) != len(vs) {
		return nil, errors.ValidationError(
			fmt.Sprintf("weights length %d does not match vectors length %d", len(weights), len(vs)),
			"weights")
	}

	dim := len(vs[0])
	for i, v := range vs {
		if len(v) != dim {
			return nil, errors.ValidationError(
				fmt.Sprintf("vector %d has dimension %d, expected %d", i, len(v), dim), "embeddings")
		}
	}

	if weights == nil {
		weights = make([]float64, len(vs))
		for i := range weights {
			weights[i] = 1.0
		}
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return nil, errors.ValidationError("weights sum to zero", "weights")
	}

	acc := make([]float64, dim)
	for i, v := range vs {
		w := weights[i] / total
		for j, val := range v {
			acc[j] += w * float64(val)
		}
	}

	out := make(Vector, dim)
	for j, val := range acc {
		out[j] = float32(val)
	}
	return out, nil
}

// SimilarityMatrix returns the pairwise cosine similarity matrix for vs.
// The matrix is symmetric; the upper triangle is computed and mirrored.
func SimilarityMatrix(vs []Vector) ([][]float64, error) {
	n := len(vs)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s, err := Cosine(vs[i], vs[j])
			if err != nil {
				return nil, err
			}
			m[i][j] = s
			m[j][i] = s
		}
	}
	return m, nil
}

// ToBinary encodes the vector as concatenated little-endian IEEE-754
// 32-bit floats, 4 bytes per component.
func (v Vector) ToBinary() []byte {
	buf := make([]byte, 4*len(v))
	for i, val := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf
}

// FromBinary decodes a vector from the binary form, inferring the dimension
// from the byte length.
func FromBinary(data []byte) (Vector, error) {
	if len(data)%4 != 0 {
		return nil, errors.ValidationError(
			fmt.Sprintf("binary length %d is not a multiple of 4", len(data)), "data")
	}
	v := make(Vector, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v, nil
}

// ToBase64 encodes the canonical binary form as standard base64.
func (v Vector) ToBase64() string {
	return base64.StdEncoding.EncodeToString(v.ToBinary())
}

// FromBase64 decodes a vector from its base64 binary form.
func FromBase64(s string) (Vector, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.ValidationError("invalid base64 embedding: "+err.Error(), "data")
	}
	return FromBinary(data)
}
