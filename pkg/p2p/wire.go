package p2p

import (
	"bytes"
	"encoding/gob"
)

func init() {
	gob.Register(EventsWire{})
	gob.Register(TxWire{})
}

// EventsWire carries one committed call's events, JSON encoded.
type EventsWire struct {
	Origin string // peer id of the publishing node
	Events []byte
}

// TxWire carries one raw signed request toward the sequencer.
type TxWire struct {
	Raw []byte
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
