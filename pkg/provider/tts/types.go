package tts

import "github.com/YoSoyDavidB/voicebridge/pkg/types"

// VoiceProfile is an alias of types.VoiceProfile, kept as a package-local
// name so TTS backend packages don't need to import pkg/types directly for
// the common case.
type VoiceProfile = types.VoiceProfile
