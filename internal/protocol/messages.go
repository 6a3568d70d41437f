package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type              string   `json:"type"`
	ProtocolVersion   string   `json:"protocol_version"`
	SupportedVersions []string `json:"supported_versions,omitempty"`
	ClientName        string   `json:"client_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	Field           FieldInfo `json:"field"`
}

// FieldInfo describes the served field; /v1/bootstrap returns it as-is.
type FieldInfo struct {
	Seed           int64      `json:"seed"`
	RandomSource   string     `json:"random_source"`
	TuningDigest   string     `json:"tuning_digest"`
	Kinds          []KindInfo `json:"kinds"`
	MaxRegionCells int        `json:"max_region_cells"`
}

type KindInfo struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// SLICE_REQ (client -> server): sample Kind over the inclusive box
// [Min, Max] every Step blocks.
type SliceReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id"`
	Kind            string `json:"kind"`
	Min             [3]int `json:"min"`
	Max             [3]int `json:"max"`
	Step            int    `json:"step"`
}

// SLICE (server -> client). Values are x-major, then z, then y.
type SliceMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	RequestID       string    `json:"request_id"`
	Kind            string    `json:"kind"`
	Min             [3]int    `json:"min"`
	Max             [3]int    `json:"max"`
	Step            int       `json:"step"`
	Dims            [3]int    `json:"dims"`
	Values          []float64 `json:"values"`
	ValueMin        float64   `json:"value_min"`
	ValueMax        float64   `json:"value_max"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(requestID, code, message string) ErrorMsg {
	return ErrorMsg{
		Type:            TypeError,
		ProtocolVersion: Version,
		RequestID:       requestID,
		Code:            code,
		Message:         message,
	}
}
