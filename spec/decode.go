package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeFleet unmarshals a fleet definition from JSON, detecting duplicate
// service names that encoding/json would silently ignore (the last duplicate
// would win and a descriptor would vanish without a trace).
func DecodeFleet(data []byte) (Fleet, error) {
	var raw struct {
		Name     string                     `json:"name"`
		Services map[string]json.RawMessage `json:"services"`
		Primary  string                     `json:"primary"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Fleet{}, err
	}

	if err := checkDuplicateKeys(data, "services"); err != nil {
		return Fleet{}, err
	}

	fleet := Fleet{
		Name:     raw.Name,
		Primary:  raw.Primary,
		Services: make(map[string]Service, len(raw.Services)),
	}

	for name, svcData := range raw.Services {
		var svc Service
		if err := json.Unmarshal(svcData, &svc); err != nil {
			return Fleet{}, fmt.Errorf("service %q: %w", name, err)
		}
		fleet.Services[name] = svc
	}

	return fleet, nil
}

// checkDuplicateKeys checks whether the JSON object at the given field name
// contains duplicate keys. Returns an error if duplicates are found.
func checkDuplicateKeys(data []byte, field string) error {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return nil // not a JSON object; let standard unmarshal report it
	}

	fieldData, ok := outer[field]
	if !ok {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(fieldData))
	return checkObjectDuplicates(dec, field)
}

func checkObjectDuplicates(dec *json.Decoder, context string) error {
	t, err := dec.Token()
	if err != nil {
		return nil
	}
	delim, ok := t.(json.Delim)
	if !ok || delim != '{' {
		return nil // not an object
	}

	seen := make(map[string]bool)
	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := t.(string)
		if !ok {
			return nil
		}
		if seen[key] {
			return fmt.Errorf("duplicate %s key: %q", context, key)
		}
		seen[key] = true

		// Skip the value (any JSON value, including nested objects).
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return nil
		}
	}

	return nil
}
