// ABOUTME: Decoder interface definition and codec factory
// ABOUTME: Common interface for all chunk decoders
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
)

// Decoder decodes a self-contained payload to PCM
type Decoder interface {
	// Decode converts one encoded payload into a buffer
	Decode(data []byte) (*audio.Buffer, error)

	// Close releases decoder resources
	Close() error
}

// New returns a decoder for the format's codec
func New(format audio.Format) (Decoder, error) {
	switch format.Codec {
	case "pcm":
		return NewPCM(format)
	case "mp3":
		return NewMP3(format)
	case "flac":
		return NewFLAC(format)
	case "opus":
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", format.Codec)
	}
}
