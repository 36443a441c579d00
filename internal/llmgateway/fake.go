package llmgateway

import "context"

// FakeClient is a scripted Client used by Planner/Auditor/Gateway tests.
// Responses are returned in order; once exhausted it repeats the last one.
type FakeClient struct {
	Responses []string
	Err       error
	calls     int
}

func (f *FakeClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Responses) == 0 {
		return "", nil
	}
	idx := f.calls
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	f.calls++
	return f.Responses[idx], nil
}

// Calls reports how many times Complete was invoked.
func (f *FakeClient) Calls() int { return f.calls }
