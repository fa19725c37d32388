// Package speech adapts a synchronous text-to-speech API to the asynchronous
// adapter contract. Synthesis runs in the background after Submit and the
// audio is kept in memory until it is published or expires.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"slidecast/internal/domain"
	"slidecast/internal/infra"
	"slidecast/internal/providers"
)

// RefScheme prefixes result references served by OpenResult.
const RefScheme = "speech://"

const (
	defaultModel     = "tts-1"
	defaultVoice     = "alloy"
	maxInputChars    = 4096
	maxAudioBytes    = 64 << 20
	defaultRetention = 2 * time.Hour
	defaultTimeout   = 2 * time.Minute
)

// Synthesizer is the subset of the OpenAI client the adapter needs.
type Synthesizer interface {
	CreateSpeech(ctx context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error)
}

type Options struct {
	APIKey        string
	BaseURL       string
	Model         string
	Voice         string
	RatePerSecond int
	Retention     time.Duration
	Timeout       time.Duration
	Client        Synthesizer
	Logger        *infra.Logger
}

type Adapter struct {
	client  Synthesizer
	hasKey  bool
	model   string
	voice   string
	timeout time.Duration
	limiter *rate.Limiter
	tasks   *cache.Cache
	logger  *infra.Logger
}

func New(opts Options) *Adapter {
	client := opts.Client
	hasKey := opts.Client != nil
	if client == nil {
		key := strings.TrimSpace(opts.APIKey)
		config := openai.DefaultConfig(key)
		if base := strings.TrimSpace(opts.BaseURL); base != "" {
			config.BaseURL = strings.TrimRight(base, "/")
		}
		client = openai.NewClientWithConfig(config)
		hasKey = key != ""
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RatePerSecond)
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Adapter{
		client:  client,
		hasKey:  hasKey,
		model:   firstNonEmpty(opts.Model, defaultModel),
		voice:   firstNonEmpty(opts.Voice, defaultVoice),
		timeout: timeout,
		limiter: limiter,
		tasks:   cache.New(retention, retention/2),
		logger:  logger,
	}
}

func (a *Adapter) Type() domain.ProviderType { return domain.ProviderSpeech }

type payload struct {
	Input string  `json:"input"`
	Voice string  `json:"voice"`
	Model string  `json:"model"`
	Speed float64 `json:"speed"`
}

type task struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	state  domain.JobState
	audio  []byte
	errMsg string
}

func (t *task) snapshot() (domain.JobState, []byte, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.audio, t.errMsg
}

func (t *task) finish(state domain.JobState, audio []byte, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != domain.JobStateProcessing {
		return
	}
	t.state, t.audio, t.errMsg = state, audio, errMsg
}

func (a *Adapter) Submit(ctx context.Context, req providers.Request) (string, error) {
	if !a.hasKey {
		return "", a.terminal("submit", providers.ErrMissingAPIKey.Error(), providers.ErrMissingAPIKey)
	}
	var p payload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return "", a.terminal("submit", "payload is not a json object", err)
	}
	p.Input = strings.TrimSpace(p.Input)
	if p.Input == "" {
		return "", a.terminal("submit", "input text is required", nil)
	}
	if len([]rune(p.Input)) > maxInputChars {
		return "", a.terminal("submit", fmt.Sprintf("input exceeds %d characters", maxInputChars), nil)
	}
	if err := ctx.Err(); err != nil {
		return "", &domain.TransientProviderError{Provider: domain.ProviderSpeech, Op: "submit", Err: err}
	}

	handle := uuid.NewString()
	runCtx, cancel := context.WithTimeout(context.Background(), a.timeout)
	t := &task{cancel: cancel, state: domain.JobStateProcessing}
	a.tasks.SetDefault(handle, t)

	request := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(firstNonEmpty(p.Model, a.model)),
		Input:          p.Input,
		Voice:          openai.SpeechVoice(firstNonEmpty(p.Voice, a.voice)),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          p.Speed,
	}
	go a.synthesize(runCtx, handle, t, request)
	return handle, nil
}

func (a *Adapter) synthesize(ctx context.Context, handle string, t *task, req openai.CreateSpeechRequest) {
	defer t.cancel()
	if err := a.limiter.Wait(ctx); err != nil {
		t.finish(failureState(ctx), nil, err.Error())
		return
	}
	resp, err := a.client.CreateSpeech(ctx, req)
	if err != nil {
		a.logger.Warn().Err(err).Str("handle", handle).Msg("speech: synthesis failed")
		t.finish(failureState(ctx), nil, describe(err))
		return
	}
	defer resp.Close()
	audio, err := io.ReadAll(io.LimitReader(resp, maxAudioBytes+1))
	switch {
	case err != nil:
		t.finish(failureState(ctx), nil, err.Error())
	case len(audio) == 0:
		t.finish(domain.JobStateFailed, nil, "empty audio response")
	case len(audio) > maxAudioBytes:
		t.finish(domain.JobStateFailed, nil, "audio exceeds size limit")
	default:
		t.finish(domain.JobStateCompleted, audio, "")
	}
}

func failureState(ctx context.Context) domain.JobState {
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.JobStateCancelled
	}
	return domain.JobStateFailed
}

// describe surfaces the API's own message when one is available.
func describe(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func (a *Adapter) lookup(handle string) (*task, bool) {
	v, ok := a.tasks.Get(handle)
	if !ok {
		return nil, false
	}
	t, ok := v.(*task)
	return t, ok
}

// GetStatus reports a task's progress. Tasks lost to a restart or expiry are failed.
func (a *Adapter) GetStatus(_ context.Context, handle string) (providers.Status, error) {
	t, ok := a.lookup(handle)
	if !ok {
		return providers.Status{State: domain.JobStateFailed, Native: "missing", ErrorMessage: "speech task not found"}, nil
	}
	state, _, errMsg := t.snapshot()
	st := providers.Status{State: state, Native: strings.ToLower(string(state)), ErrorMessage: errMsg}
	if state == domain.JobStateCompleted {
		st.ResultRef = RefScheme + handle
	}
	return st, nil
}

// Cancel aborts an in-flight synthesis.
func (a *Adapter) Cancel(_ context.Context, handle string) (bool, error) {
	t, ok := a.lookup(handle)
	if !ok {
		return false, nil
	}
	state, _, _ := t.snapshot()
	if state != domain.JobStateProcessing {
		return false, nil
	}
	t.finish(domain.JobStateCancelled, nil, "cancelled")
	t.cancel()
	return true, nil
}

// OpenResult serves the synthesized audio for a speech:// reference.
func (a *Adapter) OpenResult(_ context.Context, resultRef string) (io.ReadCloser, string, error) {
	handle, ok := strings.CutPrefix(resultRef, RefScheme)
	if !ok || handle == "" {
		return nil, "", fmt.Errorf("speech: unsupported result ref %q", resultRef)
	}
	t, found := a.lookup(handle)
	if !found {
		return nil, "", fmt.Errorf("speech: result %s: %w", handle, domain.ErrNotFound)
	}
	state, audio, _ := t.snapshot()
	if state != domain.JobStateCompleted {
		return nil, "", fmt.Errorf("speech: result %s not ready", handle)
	}
	return io.NopCloser(bytes.NewReader(audio)), "audio/mpeg", nil
}

func (a *Adapter) terminal(op, msg string, err error) error {
	return &domain.TerminalProviderError{Provider: domain.ProviderSpeech, Op: op, Message: msg, Err: err}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

var (
	_ providers.Adapter      = (*Adapter)(nil)
	_ providers.ResultOpener = (*Adapter)(nil)
)
