package oracle

import "context"

// StubOracle is a deterministic Oracle used by enrichment tests so they
// never depend on network access or a live API key.
type StubOracle struct {
	// Responses maps a story title to the Result it should return. A title
	// absent from the map yields (nil, nil), exercising the "oracle
	// produced nothing usable" path.
	Responses map[string]Result
	// Err, when set, is returned verbatim for every call regardless of
	// title, exercising the "oracle call failed" path.
	Err error
	// Calls records every Input passed to Enrich, in order.
	Calls []Input
}

func NewStubOracle() *StubOracle {
	return &StubOracle{Responses: map[string]Result{}}
}

func (s *StubOracle) Enrich(_ context.Context, in Input) (*Result, error) {
	s.Calls = append(s.Calls, in)
	if s.Err != nil {
		return nil, s.Err
	}
	result, ok := s.Responses[in.Title]
	if !ok {
		return nil, nil
	}
	return &result, nil
}
