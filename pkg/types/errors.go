package types

import "errors"

// Frame decoding errors. Both are recovered locally by the routing
// layer: the frame is dropped and logged, the connection stays open.
var (
	ErrMalformedFrame = errors.New("frame is not a JSON object")
	ErrMissingType    = errors.New("frame has no type field")
)
