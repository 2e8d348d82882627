package events

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// payloadVersion is bumped when the encoded field set changes.
const payloadVersion = 1

type Kind uint8

const (
	KindPhaseChanged Kind = iota + 1
	KindPoolExhausted
	KindPhaseViolation
	KindInvalidHandle
	KindPoolReleased
)

func (k Kind) String() string {
	switch k {
	case KindPhaseChanged:
		return "phase_changed"
	case KindPoolExhausted:
		return "pool_exhausted"
	case KindPhaseViolation:
		return "phase_violation"
	case KindInvalidHandle:
		return "invalid_handle"
	case KindPoolReleased:
		return "pool_released"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := KindPhaseChanged; k <= KindPoolReleased; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("kind %q: %w", s, ErrBadPayload)
}

// Event is one recorded moment. Seq is zero until the event is flushed to
// the outbox.
type Event struct {
	Seq    uint64
	Kind   Kind
	Pool   string
	Phase  string
	Detail string
	Time   time.Time
}

// Encode renders e as a JSON object.
func Encode(e Event) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"v":      payloadVersion,
		"seq":    fmt.Sprintf("%d", e.Seq),
		"kind":   e.Kind.String(),
		"pool":   e.Pool,
		"phase":  e.Phase,
		"detail": e.Detail,
		"time":   e.Time.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("events: encode seq %d: %w", e.Seq, err)
	}
	return protojson.Marshal(s)
}

// Decode parses a payload produced by Encode.
func Decode(b []byte) (Event, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(b, &s); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	f := s.GetFields()

	if v := f["v"].GetNumberValue(); v != payloadVersion {
		return Event{}, fmt.Errorf("%w: version %v", ErrBadPayload, v)
	}
	kind, err := ParseKind(f["kind"].GetStringValue())
	if err != nil {
		return Event{}, err
	}
	var seq uint64
	if _, err := fmt.Sscanf(f["seq"].GetStringValue(), "%d", &seq); err != nil {
		return Event{}, fmt.Errorf("%w: seq: %v", ErrBadPayload, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, f["time"].GetStringValue())
	if err != nil {
		return Event{}, fmt.Errorf("%w: time: %v", ErrBadPayload, err)
	}

	return Event{
		Seq:    seq,
		Kind:   kind,
		Pool:   f["pool"].GetStringValue(),
		Phase:  f["phase"].GetStringValue(),
		Detail: f["detail"].GetStringValue(),
		Time:   ts,
	}, nil
}
