// ft8encode is a bench utility: it encodes one message to audio through
// the configured codec backend and writes the result as a mono WAV file,
// so a transmission can be inspected in an audio editor without keying a
// radio.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kb5ft8/ft8d/pkg/dsp"
	"github.com/kb5ft8/ft8d/pkg/model"
)

func main() {
	var (
		message    = flag.String("message", "", "message text to encode, e.g. \"CQ AA1AA FN42\"")
		mode       = flag.String("mode", "FT8", "mode: FT8 or FT4")
		freq       = flag.Float64("freq", 1500, "audio frequency in Hz")
		sampleRate = flag.Int("rate", 48000, "output sample rate")
		output     = flag.String("output", "ft8encode.wav", "output WAV file")
	)
	flag.Parse()

	if *message == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -message \"CQ AA1AA FN42\" [options]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}
	if _, ok := model.ModeByName(*mode); !ok {
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(1)
	}

	codec := dsp.DefaultCodec()
	defer codec.Close()

	res := codec.Encode(context.Background(), model.EncodeRequest{
		Mode:       *mode,
		Text:       *message,
		FreqHz:     *freq,
		SampleRate: *sampleRate,
		QueuedAt:   time.Now().UTC(),
	})
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "encode failed: %v\n", res.Err)
		os.Exit(1)
	}

	if err := writeWAV(*output, res.PCM, *sampleRate); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *output, err)
		os.Exit(1)
	}
	fmt.Printf("%s: %q at %.0f Hz, %.2fs, %d samples -> %s\n",
		*mode, *message, *freq, float64(len(res.PCM))/float64(*sampleRate), len(res.PCM), *output)
}

// writeWAV emits a minimal 16-bit mono PCM WAV.
func writeWAV(path string, pcm []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dataLen := len(pcm) * 2
	hdr := make([]byte, 0, 44)
	hdr = append(hdr, []byte("RIFF")...)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(36+dataLen))
	hdr = append(hdr, []byte("WAVEfmt ")...)
	hdr = binary.LittleEndian.AppendUint32(hdr, 16)
	hdr = binary.LittleEndian.AppendUint16(hdr, 1) // PCM
	hdr = binary.LittleEndian.AppendUint16(hdr, 1) // mono
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(sampleRate))
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(sampleRate*2))
	hdr = binary.LittleEndian.AppendUint16(hdr, 2)
	hdr = binary.LittleEndian.AppendUint16(hdr, 16)
	hdr = append(hdr, []byte("data")...)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(dataLen))
	if _, err := f.Write(hdr); err != nil {
		return err
	}

	buf := make([]byte, dataLen)
	for i, s := range pcm {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(s*32767)))
	}
	_, err = f.Write(buf)
	return err
}
