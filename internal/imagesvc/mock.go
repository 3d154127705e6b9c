package imagesvc

import "context"

// MockClient returns scripted results, for workflow tests.
type MockClient struct {
	Images      []Image
	GenerateErr error

	Evaluation Evaluation
	EvaluateErr error
}

// Generate implements Client.
func (m *MockClient) Generate(_ context.Context, _ string, _ string, _ int) ([]Image, error) {
	if m.GenerateErr != nil {
		return nil, m.GenerateErr
	}
	return m.Images, nil
}

// Evaluate implements Client.
func (m *MockClient) Evaluate(_ context.Context, _ Image, _ string) (Evaluation, error) {
	if m.EvaluateErr != nil {
		return Evaluation{}, m.EvaluateErr
	}
	return m.Evaluation, nil
}

var _ Client = (*MockClient)(nil)
