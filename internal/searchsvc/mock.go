package searchsvc

import "context"

// MockClient returns a fixed, scripted set of results regardless of query,
// for workflow tests that don't want a real network dependency.
type MockClient struct {
	Results []Result
	Err     error
}

// Search implements Client.
func (m *MockClient) Search(_ context.Context, _ string, maxResults int) ([]Result, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if maxResults > 0 && maxResults < len(m.Results) {
		return m.Results[:maxResults], nil
	}
	return m.Results, nil
}

var _ Client = (*MockClient)(nil)
