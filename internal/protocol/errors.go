package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Slice requests.
	ErrUnknownKind    = "E_UNKNOWN_KIND"
	ErrBadRegion      = "E_BAD_REGION"
	ErrRegionTooLarge = "E_REGION_TOO_LARGE"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrUnknownKind:     {},
	ErrBadRegion:       {},
	ErrRegionTooLarge:  {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
