package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
)

var errNotWAV = errors.New("not a RIFF/WAVE file")

type wavHeader struct {
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// Duration is the playback length in seconds, 0 when the header is incomplete.
func (h wavHeader) Duration() float64 {
	bytesPerSec := float64(h.SampleRate) * float64(h.Channels) * float64(h.BitsPerSample) / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return float64(h.DataSize) / bytesPerSec
}

func (h wavHeader) isMono16k() bool {
	return h.Channels == 1 && h.SampleRate == 16000
}

func readWAVHeader(path string) (wavHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return wavHeader{}, err
	}
	defer f.Close()
	return parseWAV(f)
}

// parseWAV walks the RIFF chunk list until both "fmt " and "data" are seen.
func parseWAV(r io.Reader) (wavHeader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return wavHeader{}, errNotWAV
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return wavHeader{}, errNotWAV
	}

	var (
		h               wavHeader
		gotFmt, gotData bool
		chunk           [8]byte
	)
	for !(gotFmt && gotData) {
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return wavHeader{}, errNotWAV
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return wavHeader{}, errNotWAV
			}
			// Only the PCM prefix is read; the declared size is untrusted.
			var buf [16]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return wavHeader{}, errNotWAV
			}
			h.Channels = binary.LittleEndian.Uint16(buf[2:4])
			h.SampleRate = binary.LittleEndian.Uint32(buf[4:8])
			h.BitsPerSample = binary.LittleEndian.Uint16(buf[14:16])
			gotFmt = true
			if _, err := io.CopyN(io.Discard, r, int64(size)-16+int64(size%2)); err != nil {
				return wavHeader{}, errNotWAV
			}
		case "data":
			h.DataSize = size
			gotData = true
			if !gotFmt {
				if _, err := io.CopyN(io.Discard, r, int64(size)+int64(size%2)); err != nil {
					return wavHeader{}, errNotWAV
				}
			}
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)+int64(size%2)); err != nil {
				return wavHeader{}, errNotWAV
			}
		}
	}
	return h, nil
}
