package database

import "math"

// CosineSimilarity computes the cosine of the angle between two vectors,
// clamped to [-1, 1]. Mismatched lengths and zero vectors score -1, the
// floor of the range, so they can never clear a similarity threshold.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return -1
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return -1
	}

	return math.Max(-1, math.Min(1, dot/(math.Sqrt(normA)*math.Sqrt(normB))))
}

// CosineDistance is 1 - CosineSimilarity, ranging from 0 (identical) to
// 2 (opposite). Matches pgvector's <=> operator, so in-memory and SQL
// rankings agree.
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}
