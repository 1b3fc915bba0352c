package codegen

import "encoding/json"

// marshalRecord/unmarshalRecord encode a Record for storage inside window
// and join handler state, which is opaque byte payload as far as the
// runtime contract is concerned. JSON keeps this independent of the
// output schema's fixed-width row layout, so a Map step's extra fields
// survive a round trip through window/join state even when they aren't
// part of the pipeline's declared input schema.
func marshalRecord(rec Record) ([]byte, error) {
	return json.Marshal(rec)
}

func unmarshalRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
