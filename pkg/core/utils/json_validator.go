package utils

import (
	"encoding/json"
	"errors"
	"fmt"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
)

// ErrUnparseable is returned when no decoding strategy succeeds.
var ErrUnparseable = errors.New("input is not valid JSON, Hjson or repairable JSON")

// ParseHJSON parses Human-friendly JSON (Hjson) and returns standard JSON.
// Hjson supports comments, unquoted keys, optional commas and multiline strings.
func ParseHJSON(data []byte) ([]byte, error) {
	var result interface{}
	if err := hjson.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("hjson: %w", err)
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("hjson to json: %w", err)
	}
	return out, nil
}

// RepairJSON fixes common hand-editing mistakes: single quotes, unquoted keys,
// trailing commas, unclosed objects.
func RepairJSON(data []byte) ([]byte, error) {
	repaired, err := jsonrepair.RepairJSON(string(data))
	if err != nil {
		return nil, fmt.Errorf("json repair: %w", err)
	}
	return []byte(repaired), nil
}

// DecodeLenient decodes data into v, trying in order:
//  1. standard JSON
//  2. Hjson
//  3. JSON repair
//
// The first strategy whose output unmarshals into v wins. Type errors from
// strict JSON (e.g. a string where a number belongs) are returned as-is since
// the other strategies would not fix them.
func DecodeLenient(data []byte, v interface{}) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Errorf("json: %w", err)
	}

	if converted, herr := ParseHJSON(data); herr == nil {
		if err := json.Unmarshal(converted, v); err == nil {
			return nil
		}
	}

	if repaired, rerr := RepairJSON(data); rerr == nil {
		if err := json.Unmarshal(repaired, v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: %v", ErrUnparseable, err)
}
