package agent

import (
	"context"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"

	xerrors "defiseek/internal/errors"
)

type stubAgent struct {
	id  string
	out *Output
	err error
}

func (s *stubAgent) ID() string       { return s.id }
func (s *stubAgent) Describe() string { return "stub agent" }
func (s *stubAgent) Run(ctx context.Context, in Input) (*Output, error) {
	return s.out, s.err
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&stubAgent{id: "walletRisk"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Register(&stubAgent{id: "walletRisk"}, nil); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistryPreservesRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		if err := reg.Register(&stubAgent{id: id}, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	ids := reg.IDs()
	want := []string{"c", "a", "b"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("unexpected order: got %v want %v", ids, want)
		}
	}
}

func TestRegistryExecuteUnknownAgent(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), "missing", Input{})
	if !xerrors.IsCode(err, xerrors.CodeAgentNotFound) {
		t.Fatalf("unexpected error code: got %v want %v", xerrors.CodeOf(err), xerrors.CodeAgentNotFound)
	}
}

func TestRegistryExecuteValidatesContract(t *testing.T) {
	schema := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"riskScore"},
		Properties: map[string]*jsonschema.Schema{
			"riskScore": {Type: "integer"},
		},
	}

	reg := NewRegistry()
	good := &stubAgent{id: "good", out: &Output{Payload: map[string]any{"riskScore": 42}}}
	bad := &stubAgent{id: "bad", out: &Output{Payload: map[string]any{"riskScore": "high"}}}
	if err := reg.Register(good, schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Register(bad, schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := reg.Execute(context.Background(), "good", Input{}); err != nil {
		t.Fatalf("unexpected error for valid payload: %v", err)
	}

	_, err := reg.Execute(context.Background(), "bad", Input{})
	if !xerrors.IsCode(err, xerrors.CodeAgentOutputInvalid) {
		t.Fatalf("unexpected error code: got %v want %v", xerrors.CodeOf(err), xerrors.CodeAgentOutputInvalid)
	}
	e, _ := xerrors.From(err)
	if e.Metadata()["agent"] != "bad" {
		t.Fatalf("expected agent metadata, got %v", e.Metadata())
	}
	if !e.ShouldAlert() {
		t.Fatal("contract violation should alert")
	}
}

func TestRegistryExecuteNilOutput(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&stubAgent{id: "empty"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := reg.Execute(context.Background(), "empty", Input{})
	if !xerrors.IsCode(err, xerrors.CodeAgentOutputInvalid) {
		t.Fatalf("unexpected error code: got %v", xerrors.CodeOf(err))
	}
}
