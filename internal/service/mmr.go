package service

import "math"

// MMRCandidate es un ítem rankeable: embedding más una importancia opcional.
type MMRCandidate struct {
	ID         string
	Embedding  []float32
	Importance float64
}

// MMROptions parametriza la selección.
type MMROptions struct {
	// Lambda en [0,1]: 1 maximiza relevancia, 0 maximiza diversidad.
	Lambda float64
	// ImportanceWeight añade w·importance al término de relevancia.
	ImportanceWeight float64
}

// SelectMMR elige k candidatos por Maximal Marginal Relevance respecto al
// query. Función pura: no muta los candidatos y es determinista para un
// empate dado (gana el primero en orden de entrada). Con k mayor que el
// número de candidatos devuelve todos, cada uno una sola vez.
func SelectMMR(query []float32, candidates []MMRCandidate, k int, opts MMROptions) []MMRCandidate {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}
	lambda := opts.Lambda
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = CosineSimilarity(query, c.Embedding) + opts.ImportanceWeight*c.Importance
	}

	selected := make([]MMRCandidate, 0, k)
	selectedIdx := make([]int, 0, k)
	used := make([]bool, len(candidates))

	// Semilla: el candidato más relevante.
	best := -1
	for i := range candidates {
		if best == -1 || relevance[i] > relevance[best] {
			best = i
		}
	}
	used[best] = true
	selected = append(selected, candidates[best])
	selectedIdx = append(selectedIdx, best)

	for len(selected) < k {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, c := range candidates {
			if used[i] {
				continue
			}
			maxSim := 0.0
			for j, si := range selectedIdx {
				sim := CosineSimilarity(c.Embedding, candidates[si].Embedding)
				if j == 0 || sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*relevance[i] - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		used[bestIdx] = true
		selected = append(selected, candidates[bestIdx])
		selectedIdx = append(selectedIdx, bestIdx)
	}
	return selected
}

// CosineSimilarity es la similitud coseno estándar; vectores de norma cero
// dan similitud 0.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
