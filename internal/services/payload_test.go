package services

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload(dataURL("audio/mpeg", []byte("ID3abc")))
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", p.MediaType)
	assert.Equal(t, []byte("ID3abc"), p.Data)

	p, err = DecodePayload(base64.StdEncoding.EncodeToString([]byte("raw bytes")))
	require.NoError(t, err)
	assert.Empty(t, p.MediaType)
	assert.Equal(t, []byte("raw bytes"), p.Data)

	p, err = DecodePayload("data:text/plain,hello%20world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(p.Data))
}

func TestDecodePayload_Invalid(t *testing.T) {
	for _, src := range []string{"", "   ", "data:audio/mpeg;base64", "data:audio/mpeg;base64,", "not base64 !!"} {
		_, err := DecodePayload(src)
		assert.Error(t, err, "source %q", src)
	}
}

func TestPayloadAudioExtension(t *testing.T) {
	wav := append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)

	tests := []struct {
		name    string
		payload Payload
		want    string
	}{
		{"declared mpeg", Payload{MediaType: "audio/mpeg", Data: []byte{1}}, ".mp3"},
		{"declared wav", Payload{MediaType: "audio/x-wav", Data: []byte{1}}, ".wav"},
		{"declared m4a", Payload{MediaType: "audio/mp4", Data: []byte{1}}, ".m4a"},
		{"sniffed wav", Payload{Data: wav}, ".wav"},
		{"unknown", Payload{MediaType: "application/x-whatever", Data: []byte("zzzz")}, defaultAudioExt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.payload.AudioExtension())
		})
	}
}

func TestMaterializeAudio(t *testing.T) {
	dir := t.TempDir()

	path, err := MaterializeAudio(dir, "job1", dataURL("audio/ogg", []byte("OggS-data")))
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, ".ogg"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "OggS-data", string(data))
}

func TestMaterializeAudio_EmptyPayloadProceedsSilent(t *testing.T) {
	dir := t.TempDir()

	for _, src := range []string{"", "data:audio/mpeg;base64,", "%%%"} {
		path, err := MaterializeAudio(dir, "job1", src)
		require.NoError(t, err)
		assert.Empty(t, path)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
