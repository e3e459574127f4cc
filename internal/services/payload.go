package services

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// defaultAudioExt is used when neither the declared nor the sniffed media
// type maps to a known audio container.
const defaultAudioExt = ".mp3"

var errEmptyPayload = errors.New("empty payload")

var audioExtensions = map[string]string{
	"audio/mpeg":   ".mp3",
	"audio/mp3":    ".mp3",
	"audio/wav":    ".wav",
	"audio/wave":   ".wav",
	"audio/x-wav":  ".wav",
	"audio/ogg":    ".ogg",
	"audio/opus":   ".opus",
	"audio/webm":   ".webm",
	"audio/flac":   ".flac",
	"audio/x-flac": ".flac",
	"audio/aac":    ".aac",
	"audio/mp4":    ".m4a",
	"audio/x-m4a":  ".m4a",
	"video/mp4":    ".mp4",
	"video/webm":   ".webm",
}

// Payload is a decoded embedded media source.
type Payload struct {
	MediaType string
	Data      []byte
}

// DecodePayload decodes a data URL ("data:audio/mpeg;base64,...") or a bare
// base64 string. A bare string has no declared media type.
func DecodePayload(source string) (*Payload, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errEmptyPayload
	}

	if !strings.HasPrefix(source, "data:") {
		data, err := decodeBase64(source)
		if err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
		return &Payload{Data: data}, nil
	}

	header, body, ok := strings.Cut(strings.TrimPrefix(source, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URL: missing ','")
	}

	params := strings.Split(header, ";")
	mediaType := strings.ToLower(strings.TrimSpace(params[0]))
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	var data []byte
	if isBase64 {
		decoded, err := decodeBase64(body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode data URL: %w", err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(body)
		if err != nil {
			return nil, fmt.Errorf("failed to unescape data URL: %w", err)
		}
		data = []byte(unescaped)
	}

	if len(data) == 0 {
		return nil, errEmptyPayload
	}

	return &Payload{MediaType: mediaType, Data: data}, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// AudioExtension picks a container extension for the payload, preferring the
// declared media type and falling back to content sniffing.
func (p *Payload) AudioExtension() string {
	if ext, ok := audioExtensions[p.MediaType]; ok {
		return ext
	}

	sniffed := mimetype.Detect(p.Data)
	for m := sniffed; m != nil; m = m.Parent() {
		if ext, ok := audioExtensions[m.String()]; ok {
			return ext
		}
	}
	if strings.HasPrefix(sniffed.String(), "audio/") && sniffed.Extension() != "" {
		return sniffed.Extension()
	}

	return defaultAudioExt
}

// MaterializeAudio writes an embedded audio payload to a temp file so the
// encoder can read it as a regular input. It returns "" with a nil error when
// the payload is empty or cannot be decoded; the render proceeds silent.
func MaterializeAudio(tempDir, jobID, source string) (string, error) {
	payload, err := DecodePayload(source)
	if err != nil {
		return "", nil
	}

	f, err := os.CreateTemp(tempDir, fmt.Sprintf("audio_%s_*%s", jobID, payload.AudioExtension()))
	if err != nil {
		return "", fmt.Errorf("failed to create temp audio file: %w", err)
	}

	if _, err := f.Write(payload.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp audio file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close temp audio file: %w", err)
	}

	return f.Name(), nil
}
