package transcribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeULCA serves both the pipeline config and inference routes.
type fakeULCA struct {
	srv          *httptest.Server
	mu           sync.Mutex
	configCalls  atomic.Int32
	computeCalls atomic.Int32
	computeCode  int
	configDelay  time.Duration
	lastCompute  ulcaComputeRequest
	lastAuth     string
}

func newFakeULCA(t *testing.T) *fakeULCA {
	t.Helper()
	f := &fakeULCA{computeCode: http.StatusOK}
	mux := http.NewServeMux()

	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		f.configCalls.Add(1)
		time.Sleep(f.configDelay)
		if r.Header.Get("userID") != "user-1" || r.Header.Get("ulcaApiKey") != "ulca-key" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"bad credentials"}`))
			return
		}
		var req ulcaConfigRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.PipelineRequestConfig.PipelineID != "pipe-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var configs []map[string]any
		for _, task := range req.PipelineTasks {
			services := []map[string]any{}
			if task.Config.Language.SourceLanguage != "xx" {
				services = append(services, map[string]any{
					"serviceId": task.TaskType + "-svc",
					"language":  task.Config.Language,
				})
			}
			configs = append(configs, map[string]any{"taskType": task.TaskType, "config": services})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"pipelineResponseConfig": configs,
			"pipelineInferenceAPIEndPoint": map[string]any{
				"callbackUrl":     f.srv.URL + "/compute",
				"inferenceApiKey": map[string]string{"name": "Authorization", "value": "from-config"},
			},
		})
	})

	mux.HandleFunc("/compute", func(w http.ResponseWriter, r *http.Request) {
		f.computeCalls.Add(1)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastAuth = r.Header.Get("Authorization")
		if f.computeCode != http.StatusOK {
			w.WriteHeader(f.computeCode)
			w.Write([]byte(`{"detail":"nope"}`))
			return
		}
		var req ulcaComputeRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.lastCompute = req

		out := map[string]any{}
		var tasks []map[string]any
		for _, task := range req.PipelineTasks {
			switch task.TaskType {
			case taskASR:
				tasks = append(tasks, map[string]any{"taskType": "asr", "output": []map[string]string{{"source": "नमस्ते दुनिया"}}})
			case taskTranslation:
				tasks = append(tasks, map[string]any{"taskType": "translation", "output": []map[string]string{{"source": "x", "target": "hello world"}}})
			case taskTTS:
				tasks = append(tasks, map[string]any{"taskType": "tts", "audio": []map[string]string{{"audioContent": base64.StdEncoding.EncodeToString([]byte("RIFFfake"))}}})
			}
		}
		out["pipelineResponse"] = tasks
		json.NewEncoder(w).Encode(out)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeULCA) client(inferenceKey string) *BhashiniClient {
	return NewBhashiniClient(BhashiniConfig{
		UserID:          "user-1",
		ULCAAPIKey:      "ulca-key",
		InferenceAPIKey: inferenceKey,
		PipelineID:      "pipe-1",
		ConfigURL:       f.srv.URL + "/config",
		Timeout:         5 * time.Second,
	})
}

func TestBhashini_ConcurrentColdCacheSharesConfigCall(t *testing.T) {
	f := newFakeULCA(t)
	f.configDelay = 200 * time.Millisecond
	c := f.client("")

	const segments = 12
	var wg sync.WaitGroup
	errs := make(chan error, segments)
	for i := 0; i < segments; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Transcribe(context.Background(), Request{
				Audio: []byte("RIFF...."), SampleRate: 16000, SourceLanguage: "hi", TargetLanguage: "en",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
	}
	if n := f.configCalls.Load(); n != 1 {
		t.Errorf("config calls = %d, want 1", n)
	}
	if n := f.computeCalls.Load(); n != segments {
		t.Errorf("compute calls = %d, want %d", n, segments)
	}
}

func TestBhashini_CancelledWaiterLeavesLookupRunning(t *testing.T) {
	f := newFakeULCA(t)
	f.configDelay = 200 * time.Millisecond
	c := f.client("")
	req := Request{Audio: []byte("RIFF...."), SampleRate: 16000, SourceLanguage: "hi", TargetLanguage: "en"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Transcribe(ctx, req); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	if _, err := c.Transcribe(context.Background(), req); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if n := f.configCalls.Load(); n != 1 {
		t.Errorf("config calls = %d, want 1", n)
	}
}

func TestBhashini_TranscribeASRAndTranslation(t *testing.T) {
	f := newFakeULCA(t)
	c := f.client("")

	resp, err := c.Transcribe(context.Background(), Request{
		Audio: []byte("RIFF...."), SampleRate: 16000, SourceLanguage: "hi", TargetLanguage: "en",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "hello world" {
		t.Errorf("Text = %q, want hello world", resp.Text)
	}
	if resp.SourceText != "नमस्ते दुनिया" {
		t.Errorf("SourceText = %q", resp.SourceText)
	}
	if f.lastAuth != "from-config" {
		t.Errorf("Authorization = %q, want key from config response", f.lastAuth)
	}

	tasks := f.lastCompute.PipelineTasks
	if len(tasks) != 2 {
		t.Fatalf("compute tasks = %d, want 2", len(tasks))
	}
	if tasks[0].Config.ServiceID != "asr-svc" || tasks[1].Config.ServiceID != "translation-svc" {
		t.Errorf("service IDs = %q, %q", tasks[0].Config.ServiceID, tasks[1].Config.ServiceID)
	}
	if tasks[0].Config.SamplingRate != 16000 || tasks[0].Config.AudioFormat != "wav" {
		t.Errorf("asr config = %+v", tasks[0].Config)
	}
	got, _ := base64.StdEncoding.DecodeString(f.lastCompute.InputData.Audio[0].AudioContent)
	if string(got) != "RIFF...." {
		t.Errorf("audio content = %q", got)
	}
}

func TestBhashini_PipelineConfigCached(t *testing.T) {
	f := newFakeULCA(t)
	c := f.client("override-key")
	req := Request{Audio: []byte("a"), SampleRate: 16000, SourceLanguage: "ta", TargetLanguage: "en"}

	for i := 0; i < 3; i++ {
		if _, err := c.Transcribe(context.Background(), req); err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
	}
	if n := f.configCalls.Load(); n != 1 {
		t.Errorf("config calls = %d, want 1", n)
	}
	if n := f.computeCalls.Load(); n != 3 {
		t.Errorf("compute calls = %d, want 3", n)
	}
	if f.lastAuth != "override-key" {
		t.Errorf("Authorization = %q, want configured override", f.lastAuth)
	}
}

func TestBhashini_SameLanguageSkipsTranslation(t *testing.T) {
	f := newFakeULCA(t)
	resp, err := f.client("").Transcribe(context.Background(), Request{
		Audio: []byte("a"), SampleRate: 16000, SourceLanguage: "hi", TargetLanguage: "hi",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(f.lastCompute.PipelineTasks) != 1 {
		t.Errorf("tasks = %d, want asr only", len(f.lastCompute.PipelineTasks))
	}
	if resp.Text != "नमस्ते दुनिया" {
		t.Errorf("Text = %q, want ASR output", resp.Text)
	}
}

func TestBhashini_ErrorClasses(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusServiceUnavailable, ErrUnavailable},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusBadRequest, ErrInvalidAudio},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			f := newFakeULCA(t)
			f.computeCode = tt.code
			_, err := f.client("").Transcribe(context.Background(), Request{
				Audio: []byte("a"), SampleRate: 16000, SourceLanguage: "hi", TargetLanguage: "en",
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBhashini_BadCredentials(t *testing.T) {
	f := newFakeULCA(t)
	c := NewBhashiniClient(BhashiniConfig{
		UserID: "user-1", ULCAAPIKey: "wrong", PipelineID: "pipe-1",
		ConfigURL: f.srv.URL + "/config", Timeout: time.Second,
	})
	_, err := c.Transcribe(context.Background(), Request{Audio: []byte("a"), SourceLanguage: "hi", TargetLanguage: "en"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if Retryable(err) {
		t.Error("auth failures must not be retryable")
	}
}

func TestBhashini_UnsupportedLanguageNotRetryable(t *testing.T) {
	f := newFakeULCA(t)
	_, err := f.client("").Transcribe(context.Background(), Request{Audio: []byte("a"), SourceLanguage: "xx", TargetLanguage: "en"})
	if !errors.Is(err, ErrInvalidAudio) {
		t.Errorf("err = %v, want ErrInvalidAudio", err)
	}
	if Retryable(err) {
		t.Error("language errors must not be retryable")
	}
}

func TestBhashini_TranslateAndSynthesize(t *testing.T) {
	f := newFakeULCA(t)
	c := f.client("")

	text, err := c.Translate(context.Background(), "नमस्ते", "hi", "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if text != "hello world" {
		t.Errorf("Translate = %q", text)
	}
	if got := f.lastCompute.InputData.Input[0].Source; got != "नमस्ते" {
		t.Errorf("input source = %q", got)
	}

	audio, err := c.Synthesize(context.Background(), "hello", "en")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "RIFFfake" {
		t.Errorf("audio = %q", audio)
	}
	if g := f.lastCompute.PipelineTasks[0].Config.Gender; g != "female" {
		t.Errorf("gender = %q", g)
	}
}

func TestBhashini_ContextCancelled(t *testing.T) {
	f := newFakeULCA(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.client("").Transcribe(ctx, Request{Audio: []byte("a"), SourceLanguage: "hi", TargetLanguage: "en"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestBhashini_EmptyAudio(t *testing.T) {
	f := newFakeULCA(t)
	_, err := f.client("").Transcribe(context.Background(), Request{SourceLanguage: "hi", TargetLanguage: "en"})
	if !errors.Is(err, ErrInvalidAudio) {
		t.Errorf("err = %v, want ErrInvalidAudio", err)
	}
}
