package speech

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSynthesizer implements Synthesizer against a locally-running TTS
// server's standard REST API (GET /api/tts?text=...&speaker_id=...),
// grounded on the teacher's coqui.Provider APIModeStandard request shape,
// generalized from a streaming PCM channel to one blocking WAV response
// per utterance.
type HTTPSynthesizer struct {
	serverURL  string
	speakerID  string
	language   string
	httpClient *http.Client
}

// NewHTTPSynthesizer constructs a synthesizer targeting serverURL (e.g.
// "http://localhost:5002"). speakerID may be empty if the server has a
// single default voice.
func NewHTTPSynthesizer(serverURL, speakerID, language string) (*HTTPSynthesizer, error) {
	if serverURL == "" {
		return nil, errors.New("speech: tts serverURL must not be empty")
	}
	if language == "" {
		language = "en"
	}
	return &HTTPSynthesizer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		speakerID:  speakerID,
		language:   language,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Synthesize requests WAV audio for text and decodes it to mono float32
// samples.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]float32, error) {
	q := url.Values{}
	q.Set("text", text)
	q.Set("language_id", s.language)
	if s.speakerID != "" {
		q.Set("speaker_id", s.speakerID)
	}

	endpoint := s.serverURL + "/api/tts?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("speech: create tts request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: tts http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech: tts server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read tts response body: %w", err)
	}

	samples, err := decodeWAVToFloat32Mono(data)
	if err != nil {
		return nil, fmt.Errorf("speech: decode tts response: %w", err)
	}
	return samples, nil
}

// decodeWAVToFloat32Mono parses a canonical 16-bit PCM RIFF/WAVE buffer and
// returns mono float32 samples normalised to [-1.0, 1.0], down-mixing
// multi-channel audio by averaging.
func decodeWAVToFloat32Mono(wav []byte) ([]float32, error) {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, errors.New("speech: not a RIFF/WAVE buffer")
	}

	var (
		channels   = 1
		dataOffset = -1
		dataSize   = 0
	)
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8
		switch chunkID {
		case "fmt ":
			if body+2 <= len(wav) {
				channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
				if channels <= 0 {
					channels = 1
				}
			}
		case "data":
			dataOffset = body
			dataSize = chunkSize
		}
		offset = body + chunkSize + chunkSize%2
	}
	if dataOffset < 0 || dataOffset+dataSize > len(wav) {
		return nil, errors.New("speech: missing data chunk")
	}

	pcm := wav[dataOffset : dataOffset+dataSize]
	n := len(pcm) / 2
	samplesPerChannel := n / channels
	out := make([]float32, samplesPerChannel)
	for i := range samplesPerChannel {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			if idx+2 > len(pcm) {
				continue
			}
			v := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(v) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}
