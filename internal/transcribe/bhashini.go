package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// BhashiniConfig carries ULCA pipeline credentials. InferenceAPIKey, when set,
// overrides the key returned by the pipeline config call.
type BhashiniConfig struct {
	UserID          string
	ULCAAPIKey      string
	InferenceAPIKey string
	PipelineID      string
	ConfigURL       string
	Timeout         time.Duration
}

// BhashiniClient calls the Bhashini ULCA pipeline API: one config call per
// task/language combination to discover service IDs and the inference
// endpoint, then one compute call per request.
// Implements Client, Translator and Synthesizer.
type BhashiniClient struct {
	cfg    BhashiniConfig
	client *http.Client

	mu        sync.Mutex
	pipelines map[string]*bhashiniPipeline
	// lookups collapses concurrent config calls for the same task list.
	lookups singleflight.Group
}

// bhashiniPipeline is a resolved inference endpoint for one task list.
type bhashiniPipeline struct {
	callbackURL string
	authHeader  string
	authValue   string
	serviceIDs  map[string]string // taskType → serviceId
}

type ulcaLanguage struct {
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

type ulcaTaskConfig struct {
	Language     ulcaLanguage `json:"language"`
	ServiceID    string       `json:"serviceId,omitempty"`
	AudioFormat  string       `json:"audioFormat,omitempty"`
	SamplingRate int          `json:"samplingRate,omitempty"`
	Gender       string       `json:"gender,omitempty"`
}

type ulcaTask struct {
	TaskType string         `json:"taskType"`
	Config   ulcaTaskConfig `json:"config"`
}

type ulcaConfigRequest struct {
	PipelineTasks         []ulcaTask `json:"pipelineTasks"`
	PipelineRequestConfig struct {
		PipelineID string `json:"pipelineId"`
	} `json:"pipelineRequestConfig"`
}

type ulcaConfigResponse struct {
	PipelineResponseConfig []struct {
		TaskType string `json:"taskType"`
		Config   []struct {
			ServiceID string       `json:"serviceId"`
			Language  ulcaLanguage `json:"language"`
		} `json:"config"`
	} `json:"pipelineResponseConfig"`
	PipelineInferenceAPIEndPoint struct {
		CallbackURL     string `json:"callbackUrl"`
		InferenceAPIKey struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"inferenceApiKey"`
	} `json:"pipelineInferenceAPIEndPoint"`
}

type ulcaText struct {
	Source string `json:"source"`
	Target string `json:"target,omitempty"`
}

type ulcaAudio struct {
	AudioContent string `json:"audioContent"`
}

type ulcaComputeRequest struct {
	PipelineTasks []ulcaTask `json:"pipelineTasks"`
	InputData     struct {
		Input []ulcaText  `json:"input,omitempty"`
		Audio []ulcaAudio `json:"audio,omitempty"`
	} `json:"inputData"`
}

type ulcaComputeResponse struct {
	PipelineResponse []struct {
		TaskType string      `json:"taskType"`
		Output   []ulcaText  `json:"output"`
		Audio    []ulcaAudio `json:"audio"`
	} `json:"pipelineResponse"`
}

const (
	taskASR         = "asr"
	taskTranslation = "translation"
	taskTTS         = "tts"
)

// NewBhashiniClient creates a new Bhashini ULCA client.
func NewBhashiniClient(cfg BhashiniConfig) *BhashiniClient {
	return &BhashiniClient{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		pipelines: make(map[string]*bhashiniPipeline),
	}
}

// Name returns the provider name.
func (bc *BhashiniClient) Name() string { return "bhashini" }

// Transcribe runs ASR followed by translation on one WAV segment. When source
// and target match, only ASR runs.
func (bc *BhashiniClient) Transcribe(ctx context.Context, req Request) (*Response, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("empty audio segment: %w", ErrInvalidAudio)
	}

	tasks := []ulcaTask{{
		TaskType: taskASR,
		Config: ulcaTaskConfig{
			Language:     ulcaLanguage{SourceLanguage: req.SourceLanguage},
			AudioFormat:  "wav",
			SamplingRate: req.SampleRate,
		},
	}}
	if req.TargetLanguage != req.SourceLanguage {
		tasks = append(tasks, ulcaTask{
			TaskType: taskTranslation,
			Config: ulcaTaskConfig{Language: ulcaLanguage{
				SourceLanguage: req.SourceLanguage,
				TargetLanguage: req.TargetLanguage,
			}},
		})
	}

	var body ulcaComputeRequest
	body.PipelineTasks = tasks
	body.InputData.Audio = []ulcaAudio{{AudioContent: base64.StdEncoding.EncodeToString(req.Audio)}}

	out, err := bc.compute(ctx, body)
	if err != nil {
		return nil, err
	}

	resp := &Response{}
	for _, task := range out.PipelineResponse {
		if len(task.Output) == 0 {
			continue
		}
		switch task.TaskType {
		case taskASR:
			resp.SourceText = task.Output[0].Source
			if len(tasks) == 1 {
				resp.Text = task.Output[0].Source
			}
		case taskTranslation:
			resp.Text = task.Output[0].Target
		}
	}
	return resp, nil
}

// Translate runs text-only translation.
func (bc *BhashiniClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	var body ulcaComputeRequest
	body.PipelineTasks = []ulcaTask{{
		TaskType: taskTranslation,
		Config: ulcaTaskConfig{Language: ulcaLanguage{
			SourceLanguage: sourceLang,
			TargetLanguage: targetLang,
		}},
	}}
	body.InputData.Input = []ulcaText{{Source: text}}

	out, err := bc.compute(ctx, body)
	if err != nil {
		return "", err
	}
	for _, task := range out.PipelineResponse {
		if task.TaskType == taskTranslation && len(task.Output) > 0 {
			return task.Output[0].Target, nil
		}
	}
	return "", fmt.Errorf("bhashini: translation output missing: %w", ErrUnavailable)
}

// Synthesize runs TTS and returns the decoded audio bytes.
func (bc *BhashiniClient) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	var body ulcaComputeRequest
	body.PipelineTasks = []ulcaTask{{
		TaskType: taskTTS,
		Config: ulcaTaskConfig{
			Language: ulcaLanguage{SourceLanguage: lang},
			Gender:   "female",
		},
	}}
	body.InputData.Input = []ulcaText{{Source: text}}

	out, err := bc.compute(ctx, body)
	if err != nil {
		return nil, err
	}
	for _, task := range out.PipelineResponse {
		if task.TaskType == taskTTS && len(task.Audio) > 0 {
			audio, err := base64.StdEncoding.DecodeString(task.Audio[0].AudioContent)
			if err != nil {
				return nil, fmt.Errorf("bhashini: decode tts audio: %v: %w", err, ErrUnavailable)
			}
			return audio, nil
		}
	}
	return nil, fmt.Errorf("bhashini: tts audio missing: %w", ErrUnavailable)
}

// compute resolves the pipeline for body's tasks, fills in service IDs and
// posts to the inference endpoint.
func (bc *BhashiniClient) compute(ctx context.Context, body ulcaComputeRequest) (*ulcaComputeResponse, error) {
	p, err := bc.pipeline(ctx, body.PipelineTasks)
	if err != nil {
		return nil, err
	}
	for i := range body.PipelineTasks {
		body.PipelineTasks[i].Config.ServiceID = p.serviceIDs[body.PipelineTasks[i].TaskType]
	}

	var out ulcaComputeResponse
	headers := map[string]string{p.authHeader: p.authValue}
	if err := bc.postJSON(ctx, p.callbackURL, headers, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// pipeline returns the cached endpoint for a task list, calling the config
// API on first use. Segments fanned out together share one config call.
func (bc *BhashiniClient) pipeline(ctx context.Context, tasks []ulcaTask) (*bhashiniPipeline, error) {
	key := pipelineKey(tasks)
	if p, ok := bc.cachedPipeline(key); ok {
		return p, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The shared lookup outlives any single caller; it is bounded by the
	// HTTP client timeout.
	ch := bc.lookups.DoChan(key, func() (any, error) {
		if p, ok := bc.cachedPipeline(key); ok {
			return p, nil
		}
		p, err := bc.fetchPipeline(context.WithoutCancel(ctx), tasks)
		if err != nil {
			return nil, err
		}
		bc.mu.Lock()
		bc.pipelines[key] = p
		bc.mu.Unlock()
		return p, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*bhashiniPipeline), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (bc *BhashiniClient) cachedPipeline(key string) (*bhashiniPipeline, bool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	p, ok := bc.pipelines[key]
	return p, ok
}

// fetchPipeline calls the config API for a task list.
func (bc *BhashiniClient) fetchPipeline(ctx context.Context, tasks []ulcaTask) (*bhashiniPipeline, error) {
	req := ulcaConfigRequest{PipelineTasks: make([]ulcaTask, len(tasks))}
	for i, t := range tasks {
		req.PipelineTasks[i] = ulcaTask{TaskType: t.TaskType, Config: ulcaTaskConfig{Language: t.Config.Language}}
	}
	req.PipelineRequestConfig.PipelineID = bc.cfg.PipelineID

	var resp ulcaConfigResponse
	headers := map[string]string{
		"userID":     bc.cfg.UserID,
		"ulcaApiKey": bc.cfg.ULCAAPIKey,
	}
	if err := bc.postJSON(ctx, bc.cfg.ConfigURL, headers, req, &resp); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}

	ep := resp.PipelineInferenceAPIEndPoint
	if ep.CallbackURL == "" {
		return nil, fmt.Errorf("bhashini: pipeline config returned no callback URL: %w", ErrUnavailable)
	}
	p := &bhashiniPipeline{
		callbackURL: ep.CallbackURL,
		authHeader:  ep.InferenceAPIKey.Name,
		authValue:   ep.InferenceAPIKey.Value,
		serviceIDs:  make(map[string]string, len(resp.PipelineResponseConfig)),
	}
	if p.authHeader == "" {
		p.authHeader = "Authorization"
	}
	if bc.cfg.InferenceAPIKey != "" {
		p.authValue = bc.cfg.InferenceAPIKey
	}
	for _, tc := range resp.PipelineResponseConfig {
		if len(tc.Config) == 0 {
			return nil, fmt.Errorf("bhashini: no %s service for requested language: %w", tc.TaskType, ErrInvalidAudio)
		}
		p.serviceIDs[tc.TaskType] = tc.Config[0].ServiceID
	}
	for _, t := range tasks {
		if p.serviceIDs[t.TaskType] == "" {
			return nil, fmt.Errorf("bhashini: no %s service for %s: %w", t.TaskType, t.Config.Language.SourceLanguage, ErrInvalidAudio)
		}
	}

	return p, nil
}

func (bc *BhashiniClient) postJSON(ctx context.Context, url string, headers map[string]string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := bc.client.Do(req)
	if err != nil {
		return transportError(ctx, "bhashini", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(ctx, "bhashini", err)
	}

	if resp.StatusCode != http.StatusOK {
		return statusError("bhashini", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("bhashini: decode response: %v: %w", err, ErrUnavailable)
	}
	return nil
}

func pipelineKey(tasks []ulcaTask) string {
	var b bytes.Buffer
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s:%s>%s;", t.TaskType, t.Config.Language.SourceLanguage, t.Config.Language.TargetLanguage)
	}
	return b.String()
}
