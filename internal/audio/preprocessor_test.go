package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emotrack-go/internal/config"
	"emotrack-go/internal/logger"
)

func testAudioConfig(dir string) config.AudioConfig {
	return config.AudioConfig{
		Dir:                dir,
		MaxSizeMB:          50,
		MaxDurationSec:     300,
		AllowedFormats:     []string{"wav", "mp3", "m4a", "webm", "ogg"},
		RetentionDays:      30,
		EnableFeatures:     true,
		FFmpegPath:         "ffmpeg",
		ToolTimeout:        time.Second,
		CompressionBitrate: "32k",
		MinCompressionGain: 0.2,
	}
}

func testTranscriptionConfig() config.TranscriptionConfig {
	return config.TranscriptionConfig{Enabled: true, Model: "whisper-1", Language: "es"}
}

// writeWAV writes a silent PCM file of the given shape.
func writeWAV(t *testing.T, path string, channels uint16, rate uint32, seconds float64) {
	t.Helper()
	const bits = 16
	dataSize := uint32(float64(rate) * float64(channels) * bits / 8 * seconds)

	buf := make([]byte, 44+int(dataSize))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], rate)
	binary.LittleEndian.PutUint32(buf[28:32], rate*uint32(channels)*bits/8)
	binary.LittleEndian.PutUint16(buf[32:34], channels*bits/8)
	binary.LittleEndian.PutUint16(buf[34:36], bits)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

type countingTranscriber struct {
	calls int
	text  string
	err   error
}

func (c *countingTranscriber) Transcribe(context.Context, string) (string, error) {
	c.calls++
	return c.text, c.err
}

func newTestPreprocessor(t *testing.T, cfg config.AudioConfig, tr Transcriber, cache TranscriptCache) *Preprocessor {
	t.Helper()
	return NewPreprocessor(cfg, testTranscriptionConfig(), DurationExtractor{}, tr, cache, logger.Discard())
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	p := newTestPreprocessor(t, testAudioConfig(dir), nil, nil)

	t.Run("rejects disallowed extension", func(t *testing.T) {
		path := filepath.Join(dir, "clip.xyz")
		writeFile(t, path, 16)

		_, err := p.Validate(path, 16)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidAudio)
		assert.Contains(t, err.Error(), "format not allowed")

		var ve *ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, ReasonFormatNotAllowed, ve.Reason)
	})

	t.Run("rejects missing file", func(t *testing.T) {
		_, err := p.Validate(filepath.Join(dir, "nope.wav"), -1)
		var ve *ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, ReasonMissing, ve.Reason)
	})

	t.Run("rejects declared size over the limit", func(t *testing.T) {
		path := filepath.Join(dir, "big.wav")
		writeFile(t, path, 1024*1024)

		_, err := p.Validate(path, 1024*1024)
		require.NoError(t, err)

		_, err = p.Validate(path, 100*1024*1024)
		var ve *ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, ReasonTooLarge, ve.Reason)
	})

	t.Run("accepts wav within limits and reports duration", func(t *testing.T) {
		path := filepath.Join(dir, "ok.wav")
		writeWAV(t, path, 1, 8000, 2)

		art, err := p.Validate(path, -1)
		require.NoError(t, err)
		assert.Equal(t, "wav", art.Format)
		require.NotNil(t, art.DurationSec)
		assert.InDelta(t, 2.0, *art.DurationSec, 0.01)
	})

	t.Run("rejects wav longer than the limit", func(t *testing.T) {
		cfg := testAudioConfig(dir)
		cfg.MaxDurationSec = 1
		short := newTestPreprocessor(t, cfg, nil, nil)
		path := filepath.Join(dir, "long.wav")
		writeWAV(t, path, 1, 8000, 2)

		_, err := short.Validate(path, -1)
		var ve *ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, ReasonTooLong, ve.Reason)
	})

	t.Run("oversized fmt chunk is not trusted", func(t *testing.T) {
		buf := make([]byte, 36)
		copy(buf[0:4], "RIFF")
		binary.LittleEndian.PutUint32(buf[4:8], 28)
		copy(buf[8:12], "WAVE")
		copy(buf[12:16], "fmt ")
		binary.LittleEndian.PutUint32(buf[16:20], 0xFFFFFFF0)
		binary.LittleEndian.PutUint16(buf[22:24], 1)
		binary.LittleEndian.PutUint32(buf[24:28], 16000)
		binary.LittleEndian.PutUint16(buf[34:36], 16)
		path := filepath.Join(dir, "x.wav")
		require.NoError(t, os.WriteFile(path, buf, 0o644))

		art, err := p.Validate(path, int64(len(buf)))
		require.NoError(t, err)
		assert.Nil(t, art.DurationSec)
	})

	t.Run("non-wav content skips duration check", func(t *testing.T) {
		path := filepath.Join(dir, "voice.mp3")
		writeFile(t, path, 256)

		art, err := p.Validate(path, -1)
		require.NoError(t, err)
		assert.Nil(t, art.DurationSec)
	})
}

func TestParseWAV_ExtendedFmtChunk(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(0))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(19))
	_ = binary.Write(&b, binary.LittleEndian, []uint16{1, 2})
	_ = binary.Write(&b, binary.LittleEndian, []uint32{8000, 32000})
	_ = binary.Write(&b, binary.LittleEndian, []uint16{4, 16, 1})
	b.Write([]byte{0, 0}) // one extension byte plus the pad byte
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(64000))

	h, err := parseWAV(&b)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), h.Channels)
	assert.Equal(t, uint32(8000), h.SampleRate)
	assert.InDelta(t, 2.0, h.Duration(), 1e-9)

	_, err = parseWAV(bytes.NewReader([]byte("RIFF\x00\x00\x00\x00WAVEfmt \xf0\xff\xff\xff")))
	assert.ErrorIs(t, err, errNotWAV)
}

func TestCacheKey(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	require.NoError(t, os.WriteFile(a, []byte("test audio data"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("test audio data"), 0o644))

	k1, err := CacheKey(a, "base", "es")
	require.NoError(t, err)
	k2, _ := CacheKey(a, "base", "en")
	k3, _ := CacheKey(a, "small", "es")
	same, _ := CacheKey(b, "base", "es")

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k2, k3)
	assert.Equal(t, k1, same, "identical bytes share a key regardless of path")
}

func TestTranscribe_CachesSuccessfulResults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.wav")
	writeWAV(t, path, 1, 8000, 0.5)

	cache, err := NewLRUCache(8)
	require.NoError(t, err)
	tr := &countingTranscriber{text: "  hola mundo  "}
	p := newTestPreprocessor(t, testAudioConfig(dir), tr, cache)

	first, ok := p.Transcribe(context.Background(), path)
	require.True(t, ok)
	second, ok := p.Transcribe(context.Background(), path)
	require.True(t, ok)

	assert.Equal(t, "hola mundo", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, tr.calls)
}

func TestTranscribe_FailuresAreSwallowed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.wav")
	writeWAV(t, path, 1, 8000, 0.5)

	cache, err := NewLRUCache(8)
	require.NoError(t, err)

	tests := []struct {
		name string
		tr   *countingTranscriber
	}{
		{"model error", &countingTranscriber{err: errors.New("model unavailable")}},
		{"empty text", &countingTranscriber{text: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPreprocessor(t, testAudioConfig(dir), tt.tr, cache)

			_, ok := p.Transcribe(context.Background(), path)
			assert.False(t, ok)
			_, ok = p.Transcribe(context.Background(), path)
			assert.False(t, ok)
			assert.Equal(t, 2, tt.tr.calls, "failures must not be cached")
		})
	}
}

func TestTranscribe_Disabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.wav")
	writeWAV(t, path, 1, 8000, 0.5)

	tr := &countingTranscriber{text: "hola"}
	p := NewPreprocessor(testAudioConfig(dir), config.TranscriptionConfig{Enabled: false}, nil, tr, nil, logger.Discard())

	_, ok := p.Transcribe(context.Background(), path)
	assert.False(t, ok)
	assert.Zero(t, tr.calls)
}

func TestNormalize(t *testing.T) {
	dir := t.TempDir()
	cfg := testAudioConfig(dir)
	cfg.EnableNormalization = true

	t.Run("disabled returns input", func(t *testing.T) {
		p := newTestPreprocessor(t, testAudioConfig(dir), nil, nil)
		p.run = func(context.Context, string, ...string) error {
			t.Fatal("tool must not run")
			return nil
		}
		assert.Equal(t, "x.mp3", p.Normalize(context.Background(), "x.mp3"))
	})

	t.Run("mono 16k wav is left alone", func(t *testing.T) {
		path := filepath.Join(dir, "mono.wav")
		writeWAV(t, path, 1, 16000, 0.25)
		p := newTestPreprocessor(t, cfg, nil, nil)
		p.run = func(context.Context, string, ...string) error {
			t.Fatal("tool must not run")
			return nil
		}
		assert.Equal(t, path, p.Normalize(context.Background(), path))
	})

	t.Run("tool failure falls back to input", func(t *testing.T) {
		path := filepath.Join(dir, "stereo.wav")
		writeWAV(t, path, 2, 44100, 0.25)
		p := newTestPreprocessor(t, cfg, nil, nil)
		p.run = func(context.Context, string, ...string) error { return errors.New("ffmpeg missing") }

		assert.Equal(t, path, p.Normalize(context.Background(), path))
	})

	t.Run("resamples other inputs", func(t *testing.T) {
		path := filepath.Join(dir, "voice.mp3")
		writeFile(t, path, 128)
		p := newTestPreprocessor(t, cfg, nil, nil)
		var gotName string
		p.run = func(_ context.Context, name string, args ...string) error {
			gotName = name
			writeWAV(t, args[len(args)-1], 1, 16000, 0.1)
			return nil
		}

		out := p.Normalize(context.Background(), path)
		assert.Equal(t, filepath.Join(dir, "voice_16k.wav"), out)
		assert.Equal(t, "ffmpeg", gotName)
		assert.FileExists(t, out)
		assert.NoFileExists(t, path)
	})
}

func TestCompress(t *testing.T) {
	dir := t.TempDir()
	cfg := testAudioConfig(dir)
	cfg.EnableCompression = true

	t.Run("keeps smaller candidate and removes original", func(t *testing.T) {
		path := filepath.Join(dir, "a.wav")
		writeFile(t, path, 1000)
		p := newTestPreprocessor(t, cfg, nil, nil)
		p.run = func(_ context.Context, _ string, args ...string) error {
			writeFile(t, args[len(args)-1], 500)
			return nil
		}

		out := p.Compress(context.Background(), path)
		assert.Equal(t, filepath.Join(dir, "a_c.ogg"), out)
		assert.NoFileExists(t, path)
	})

	t.Run("discards candidate below the gain threshold", func(t *testing.T) {
		path := filepath.Join(dir, "b.wav")
		writeFile(t, path, 1000)
		p := newTestPreprocessor(t, cfg, nil, nil)
		p.run = func(_ context.Context, _ string, args ...string) error {
			writeFile(t, args[len(args)-1], 900)
			return nil
		}

		out := p.Compress(context.Background(), path)
		assert.Equal(t, path, out)
		assert.FileExists(t, path)
		assert.NoFileExists(t, filepath.Join(dir, "b_c.ogg"))
	})
}

func TestSweepExpired(t *testing.T) {
	dir := t.TempDir()
	cfg := testAudioConfig(dir)
	cfg.RetentionDays = 1
	p := newTestPreprocessor(t, cfg, nil, nil)

	oldFile := filepath.Join(dir, "old.wav")
	newFile := filepath.Join(dir, "new.wav")
	notes := filepath.Join(dir, "notes.txt")
	for _, f := range []string{oldFile, newFile, notes} {
		writeFile(t, f, 10)
	}
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, past, past))
	require.NoError(t, os.Chtimes(notes, past, past))

	n, err := p.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, oldFile)
	assert.FileExists(t, newFile)
	assert.FileExists(t, notes)
}

func TestSweepExpired_MissingDir(t *testing.T) {
	p := newTestPreprocessor(t, testAudioConfig(filepath.Join(t.TempDir(), "gone")), nil, nil)
	n, err := p.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFeatureExtractors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.wav")
	writeWAV(t, path, 1, 16000, 1.5)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/features", r.URL.Path)
		_, _, err := r.FormFile("file")
		assert.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"features":{"pitch_mean_hz":210.5,"energy_mean_db":0.35,"pause_ratio":0.1}}`))
	}))
	defer srv.Close()

	cfg := testAudioConfig(dir)
	cfg.EnableProsodic = true
	cfg.ProsodyServiceURL = srv.URL

	f, err := NewFeatureExtractor(cfg).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, f["duration_sec"], 0.01)
	assert.Equal(t, 210.5, f["pitch_mean_hz"])
	assert.Equal(t, 0.1, f["pause_ratio"])

	cfg.EnableFeatures = false
	f, err = NewFeatureExtractor(cfg).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, f)
}

func TestChain_KeepsFeaturesOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.wav")
	writeWAV(t, path, 1, 16000, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, err := Chain{DurationExtractor{}, NewRemoteExtractor(srv.URL, time.Second)}.Extract(context.Background(), path)
	require.Error(t, err)
	assert.InDelta(t, 1.0, f["duration_sec"], 0.01)
}
