package audio

import "github.com/YoSoyDavidB/voicebridge/pkg/types"

// AudioFrame is an alias of types.AudioFrame, kept as a package-local name
// for the conversion helpers below.
type AudioFrame = types.AudioFrame
