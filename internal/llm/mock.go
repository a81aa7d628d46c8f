package llm

import (
	"context"
	"sync"
)

// MockClient implementa Client para pruebas: respuestas fijas por modelo y
// registro de llamadas.
type MockClient struct {
	mu        sync.Mutex
	Response  string
	Err       error
	ByModel   map[string]string
	ErrModels map[string]error
	Calls     []Request
}

func (m *MockClient) Generate(_ context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if m.ErrModels != nil {
		if err, ok := m.ErrModels[req.Model]; ok {
			return "", err
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.ByModel != nil {
		if resp, ok := m.ByModel[req.Model]; ok {
			return resp, nil
		}
	}
	return m.Response, nil
}

// CallCount devuelve cuántas generaciones se pidieron.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockEmbedder produce vectores deterministas a partir del contenido, útiles
// para probar ranking sin servicio externo.
type MockEmbedder struct {
	Dimension int
	Err       error
	Fixed     map[string][]float32
}

func (m *MockEmbedder) Dim() int {
	if m.Dimension == 0 {
		return 8
	}
	return m.Dimension
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Fixed != nil {
		if v, ok := m.Fixed[text]; ok {
			return v, nil
		}
	}
	dim := m.Dim()
	vec := make([]float32, dim)
	for i, r := range text {
		vec[i%dim] += float32(r%13) / 13
	}
	return vec, nil
}
