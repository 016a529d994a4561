package videos

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrNotMP4 means the file does not start with a valid ftyp box.
	ErrNotMP4 = errors.New("videos: not an mp4 file")
	// ErrCorruptVideo means the container structure could not be parsed.
	ErrCorruptVideo = errors.New("videos: corrupt video file")
)

// ProbeResult carries the metadata extracted before any state commits.
type ProbeResult struct {
	DurationSeconds int64
	SizeBytes       int64
}

// Probe walks the top-level ISO BMFF boxes of an MP4 stream and extracts
// the presentation duration from the moov/mvhd box. It runs synchronously
// in the request path so malformed files are rejected before the video
// row or any counters are written.
func Probe(r io.ReadSeeker, size int64) (*ProbeResult, error) {
	if size < 16 {
		return nil, ErrNotMP4
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptVideo, err)
	}

	sawFtyp := false
	var offset int64
	for offset < size {
		boxSize, boxType, headerLen, err := readBoxHeader(r)
		if err != nil {
			return nil, err
		}
		if boxSize == 0 {
			// box extends to end of file
			boxSize = size - offset
		}
		if boxSize < headerLen || offset+boxSize > size {
			return nil, ErrCorruptVideo
		}

		switch boxType {
		case "ftyp":
			if offset != 0 {
				return nil, ErrNotMP4
			}
			sawFtyp = true
		case "moov":
			if !sawFtyp {
				return nil, ErrNotMP4
			}
			duration, err := readMovieDuration(r, boxSize-headerLen)
			if err != nil {
				return nil, err
			}
			return &ProbeResult{DurationSeconds: duration, SizeBytes: size}, nil
		}

		offset += boxSize
		if _, err := r.Seek(offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptVideo, err)
		}
	}

	if !sawFtyp {
		return nil, ErrNotMP4
	}
	return nil, fmt.Errorf("%w: missing moov box", ErrCorruptVideo)
}

// ProbeFile probes an MP4 file on disk.
func ProbeFile(path string) (*ProbeResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Probe(f, info.Size())
}

// readBoxHeader reads one box header, returning the full box size, the
// four character type, and how many header bytes were consumed.
func readBoxHeader(r io.Reader) (int64, string, int64, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, "", 0, ErrCorruptVideo
	}
	boxSize := int64(binary.BigEndian.Uint32(header[:4]))
	boxType := string(header[4:8])
	headerLen := int64(8)

	if boxSize == 1 {
		// 64-bit largesize follows the type field
		var large [8]byte
		if _, err := io.ReadFull(r, large[:]); err != nil {
			return 0, "", 0, ErrCorruptVideo
		}
		boxSize = int64(binary.BigEndian.Uint64(large[:]))
		headerLen = 16
	}
	return boxSize, boxType, headerLen, nil
}

// readMovieDuration scans the children of a moov box for mvhd and
// converts its duration to whole seconds.
func readMovieDuration(r io.ReadSeeker, remaining int64) (int64, error) {
	for remaining > 8 {
		boxSize, boxType, headerLen, err := readBoxHeader(r)
		if err != nil {
			return 0, err
		}
		if boxSize < headerLen || boxSize > remaining {
			return 0, ErrCorruptVideo
		}
		if boxType != "mvhd" {
			if _, err := r.Seek(boxSize-headerLen, io.SeekCurrent); err != nil {
				return 0, fmt.Errorf("%w: %v", ErrCorruptVideo, err)
			}
			remaining -= boxSize
			continue
		}

		body := make([]byte, boxSize-headerLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, ErrCorruptVideo
		}
		return parseMvhd(body)
	}
	return 0, fmt.Errorf("%w: missing mvhd box", ErrCorruptVideo)
}

func parseMvhd(body []byte) (int64, error) {
	if len(body) < 4 {
		return 0, ErrCorruptVideo
	}
	version := body[0]

	var timescale uint32
	var duration uint64
	switch version {
	case 0:
		// version/flags + creation(4) + modification(4)
		if len(body) < 20 {
			return 0, ErrCorruptVideo
		}
		timescale = binary.BigEndian.Uint32(body[12:16])
		duration = uint64(binary.BigEndian.Uint32(body[16:20]))
	case 1:
		// version/flags + creation(8) + modification(8)
		if len(body) < 32 {
			return 0, ErrCorruptVideo
		}
		timescale = binary.BigEndian.Uint32(body[20:24])
		duration = binary.BigEndian.Uint64(body[24:32])
	default:
		return 0, ErrCorruptVideo
	}

	if timescale == 0 {
		return 0, ErrCorruptVideo
	}
	return int64(duration / uint64(timescale)), nil
}
