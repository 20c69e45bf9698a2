package wasmhost

import (
	"encoding/json"
	"fmt"

	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

// Buffers cross the guest boundary as a single i64: pointer in the
// upper 32 bits, length in the lower 32. Zero means "no value".

func packPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

func unpackPtrLen(v uint64) (ptr, length uint32) {
	return uint32(v >> 32), uint32(v)
}

// parseResult decodes the JSON handler result a guest returns from
// handle_request.
func parseResult(b []byte) (pipeline.HandlerResult, error) {
	var res pipeline.HandlerResult
	if err := json.Unmarshal(b, &res); err != nil {
		return pipeline.HandlerResult{}, fmt.Errorf("decoding handler result %q: %w", b, err)
	}
	return res, nil
}
