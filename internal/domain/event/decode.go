package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/domain/validation"
)

// Decode parses a feed envelope. Numbers inside args are kept as json.Number
// so uint256 values survive without float rounding. An envelope that parses
// but carries args that are not a JSON object is returned without error and
// with ArgsErr set.
func Decode(value []byte, pos cursor.Position) (Decoded, error) {
	var raw Raw
	if err := json.Unmarshal(value, &raw); err != nil {
		return Decoded{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	evt := Decoded{
		Name:     raw.Decoded.Name,
		TxHash:   raw.TxHash,
		Position: pos,
		Args:     map[string]any{},
	}

	if len(raw.Decoded.Args) == 0 || string(raw.Decoded.Args) == "null" {
		return evt, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Decoded.Args))
	dec.UseNumber()
	if err := dec.Decode(&evt.Args); err != nil {
		evt.Args = map[string]any{}
		evt.ArgsErr = &validation.Error{Issues: []validation.Issue{{
			Field:   "args",
			Message: fmt.Sprintf("Expected object: %v", err),
		}}}
	}
	return evt, nil
}

// Encode renders an event as a feed envelope.
func Encode(name, txHash string, args map[string]any) ([]byte, error) {
	encodedArgs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}
	value, err := json.Marshal(Raw{
		Decoded: RawDecoded{Name: name, Args: encodedArgs},
		TxHash:  txHash,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return value, nil
}
