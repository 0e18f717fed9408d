package wire

// AuthRequest opens every connection. The token is the opaque access
// credential; the service answers with an AuthResponse before any frames
// flow.
type AuthRequest struct {
	Token string `msgpack:"token"`
}

type AuthResponse struct {
	OK      bool   `msgpack:"ok"`
	Session string `msgpack:"session"`
	Error   string `msgpack:"error"`
}

// DetectRequest carries one encoded frame. Width and height are the
// ORIGINAL image dimensions so the service returns boxes in source
// coordinates.
type DetectRequest struct {
	FrameID string  `msgpack:"frame_id"`
	Image   []byte  `msgpack:"image"`
	Width   int     `msgpack:"width"`
	Height  int     `msgpack:"height"`
	IoU     float32 `msgpack:"iou"`
	Score   float32 `msgpack:"score"`
}

type Detection struct {
	Label      string     `msgpack:"label"`
	Confidence float32    `msgpack:"confidence"`
	Box        [4]float32 `msgpack:"box"`
}

type DetectResponse struct {
	FrameID    string      `msgpack:"frame_id"`
	Detections []Detection `msgpack:"detections"`
	Error      string      `msgpack:"error"`
}
