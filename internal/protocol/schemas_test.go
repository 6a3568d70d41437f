package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelnoise.ai/internal/protocol"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// asJSON marshals v and decodes it back into the generic shape the
// validator expects.
func asJSON(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compileSchema(t, "hello.schema.json")
	welcomeSchema := compileSchema(t, "welcome.schema.json")
	sliceReqSchema := compileSchema(t, "slice_req.schema.json")
	sliceSchema := compileSchema(t, "slice.schema.json")
	errorSchema := compileSchema(t, "error.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "supported_versions":["1.0"],
	  "client_name":"viewer"
	}`), &hello)
	validate(helloSchema, hello)

	validate(welcomeSchema, asJSON(t, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "S1",
		Field: protocol.FieldInfo{
			Seed:           1337,
			RandomSource:   "xoroshiro",
			TuningDigest:   "4f1c0a7d2e6b8c9f0a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f6071",
			Kinds:          []protocol.KindInfo{{Name: "density", Min: -87.5515, Max: 87.5515}},
			MaxRegionCells: 1 << 20,
		},
	}))

	var req any
	_ = json.Unmarshal([]byte(`{
	  "type":"SLICE_REQ",
	  "protocol_version":"1.0",
	  "request_id":"R1",
	  "kind":"density",
	  "min":[-8,0,-8],
	  "max":[8,64,8],
	  "step":4
	}`), &req)
	validate(sliceReqSchema, req)

	validate(sliceSchema, asJSON(t, protocol.SliceMsg{
		Type:            protocol.TypeSlice,
		ProtocolVersion: protocol.Version,
		RequestID:       "R1",
		Kind:            "density",
		Min:             [3]int{0, 0, 0},
		Max:             [3]int{1, 0, 0},
		Step:            1,
		Dims:            [3]int{2, 1, 1},
		Values:          []float64{0.25, -0.5},
		ValueMin:        -0.5,
		ValueMax:        0.25,
	}))

	validate(errorSchema, asJSON(t, protocol.NewError("R1", protocol.ErrRegionTooLarge, "too many cells")))
}

func TestSchemas_RejectMalformed(t *testing.T) {
	sliceReqSchema := compileSchema(t, "slice_req.schema.json")
	errorSchema := compileSchema(t, "error.schema.json")

	bad := []string{
		`{"type":"SLICE_REQ","protocol_version":"1.0","request_id":"R1","kind":"density","min":[0,0],"max":[1,1,1]}`,
		`{"type":"SLICE_REQ","protocol_version":"1.0","request_id":"","kind":"density","min":[0,0,0],"max":[1,1,1]}`,
		`{"type":"SLICE","protocol_version":"1.0","request_id":"R1","kind":"density","min":[0,0,0],"max":[1,1,1]}`,
		`{"type":"SLICE_REQ","protocol_version":"1.0","request_id":"R1","kind":"density","min":[0,0,0],"max":[1,1,1],"step":-1}`,
	}
	for i, raw := range bad {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if err := sliceReqSchema.Validate(v); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}

	if err := errorSchema.Validate(asJSON(t, protocol.NewError("", "E_NOT_DEFINED", ""))); err == nil {
		t.Fatalf("expected unknown error code rejected")
	}
}
