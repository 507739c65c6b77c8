// ABOUTME: Audio decoder package for chunk payloads
// ABOUTME: Decodes PCM, MP3, FLAC and Opus chunks into audio.Buffer
// Package decode turns one fetched chunk (or a whole track) into PCM.
//
// Each call to Decode receives a complete, independently decodable payload
// and returns an audio.Buffer with interleaved int32 samples in 24-bit range.
//
// Example:
//
//	dec, err := decode.New(audio.Format{Codec: "flac"})
//	buf, err := dec.Decode(payload)
package decode
