// Package whisper provides a local whisper.cpp-backed STT provider.
//
// It talks to a running whisper-server binary (POST /inference) and simulates
// streaming by buffering PCM, segmenting utterances with an energy-based
// silence detector and submitting each utterance as one batch request.
//
// whisper.cpp cannot produce low-latency interim results, so every committed
// utterance is emitted once as a partial and once as a final flagged with
// EndOfUtterance.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	    whisper.WithSilenceThreshold(700*time.Millisecond),
//	)
//	handle, err := p.StartStream(ctx, cfg)
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/luna/pkg/provider/stt"
)

const (
	bitsPerSample = 16

	// defaultRMSThreshold is the energy (in 16-bit sample units) below which a
	// chunk counts as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage         = "en"
	defaultSampleRate       = 16000
	defaultSilenceThreshold = 500 * time.Millisecond
	defaultMaxUtterance     = 10 * time.Second
	flushTimeout            = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

var errSessionClosed = errors.New("whisper: session is closed")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server. When empty the
// server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSilenceThreshold sets how much trailing silence commits an utterance.
func WithSilenceThreshold(d time.Duration) Option {
	return func(p *Provider) {
		p.silenceThreshold = d
	}
}

// WithMaxUtterance caps how much speech may accumulate before a flush is forced.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) {
		p.maxUtterance = d
	}
}

// WithRMSThreshold sets the silence energy threshold.
func WithRMSThreshold(rms float64) Option {
	return func(p *Provider) {
		p.rmsThreshold = rms
	}
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP server.
type Provider struct {
	serverURL        string
	model            string
	language         string
	silenceThreshold time.Duration
	maxUtterance     time.Duration
	rmsThreshold     float64
	httpClient       *http.Client
}

// New creates a new Provider for the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:        strings.TrimRight(serverURL, "/"),
		language:         defaultLanguage,
		silenceThreshold: defaultSilenceThreshold,
		maxUtterance:     defaultMaxUtterance,
		rmsThreshold:     defaultRMSThreshold,
		httpClient:       &http.Client{Timeout: flushTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a new transcription session. No network connection is
// made until the first utterance is committed.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	s := &session{
		p:          p,
		language:   lang,
		sampleRate: sr,
		channels:   ch,
		audio:      make(chan []byte, 256),
		partials:   make(chan stt.Transcript, 64),
		finals:     make(chan stt.Transcript, 64),
		done:       make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
	go s.processLoop(ctx)
	return s, nil
}

// session is a live whisper transcription session. Buffering state is owned
// by processLoop.
type session struct {
	p          *Provider
	language   string
	sampleRate int
	channels   int

	audio    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done     chan struct{}
	loopDone chan struct{}
	once     sync.Once

	mu  sync.Mutex
	err error
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	case <-s.loopDone:
		return errSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errSessionClosed
	case <-s.loopDone:
		return errSessionClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close commits any buffered speech, waits for its transcript and ends the session.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		<-s.loopDone
	})
	return nil
}

// utterance accumulates PCM for the current utterance.
type utterance struct {
	pcm       []byte
	hadSpeech bool
	silence   time.Duration
}

func (u *utterance) reset() { *u = utterance{} }

func (s *session) processLoop(ctx context.Context) {
	defer close(s.loopDone)
	defer close(s.partials)
	defer close(s.finals)

	var u utterance
	bytesPerSec := s.sampleRate * s.channels * bitsPerSample / 8
	maxBytes := int(s.p.maxUtterance.Seconds() * float64(bytesPerSec))

	// flush returns false if the session must end because inference failed.
	flush := func(fctx context.Context) bool {
		defer u.reset()
		if !u.hadSpeech {
			return true
		}
		text, err := s.infer(fctx, u.pcm)
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return false
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return true
		}
		s.partials <- stt.Transcript{Text: text}
		s.finals <- stt.Transcript{Text: text, IsFinal: true, EndOfUtterance: true}
		return true
	}
	finalFlush := func() {
		fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		flush(fctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			// Drain audio queued before Close.
			for {
				select {
				case chunk := <-s.audio:
					u.pcm = append(u.pcm, chunk...)
					if computeRMS(chunk) >= s.p.rmsThreshold {
						u.hadSpeech = true
					}
					continue
				default:
				}
				break
			}
			finalFlush()
			return
		case chunk := <-s.audio:
			d := time.Duration(len(chunk)) * time.Second / time.Duration(bytesPerSec)
			if computeRMS(chunk) < s.p.rmsThreshold {
				if !u.hadSpeech {
					continue // leading silence
				}
				u.silence += d
				u.pcm = append(u.pcm, chunk...)
				if u.silence >= s.p.silenceThreshold && !flush(ctx) {
					return
				}
				continue
			}
			u.hadSpeech = true
			u.silence = 0
			u.pcm = append(u.pcm, chunk...)
			if maxBytes > 0 && len(u.pcm) >= maxBytes && !flush(ctx) {
				return
			}
		}
	}
}

// infer uploads pcm as a WAV file to /inference and returns the text.
func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, s.sampleRate, s.channels)); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{"language": s.language, "model": s.p.model, "response_format": "json"}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// encodeWAV wraps 16-bit PCM in a RIFF/WAVE container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	le := binary.LittleEndian
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 0, 44+len(pcm))
	buf = append(buf, "RIFF"...)
	buf = le.AppendUint32(buf, uint32(36+len(pcm)))
	buf = append(buf, "WAVEfmt "...)
	buf = le.AppendUint32(buf, 16)
	buf = le.AppendUint16(buf, 1) // PCM
	buf = le.AppendUint16(buf, uint16(channels))
	buf = le.AppendUint32(buf, uint32(sampleRate))
	buf = le.AppendUint32(buf, uint32(sampleRate*blockAlign))
	buf = le.AppendUint16(buf, uint16(blockAlign))
	buf = le.AppendUint16(buf, bitsPerSample)
	buf = append(buf, "data"...)
	buf = le.AppendUint32(buf, uint32(len(pcm)))
	return append(buf, pcm...)
}

// computeRMS returns the root-mean-square energy of 16-bit PCM.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
