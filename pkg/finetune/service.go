package finetune

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/keplerlab/kepler/pkg/config"
	"github.com/keplerlab/kepler/pkg/errors"
	"github.com/keplerlab/kepler/pkg/logging"
)

const defaultFineTuneBaseURL = "https://api.openai.com"

// Job statuses reported by the API. Anything else is treated as
// non-terminal.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ModelSwapper receives the fine-tuned model id when a job succeeds. The
// OpenAI client implements it.
type ModelSwapper interface {
	SetModelID(modelID string)
}

// Service owns the fine-tuning lifecycle: submission when enough examples
// have accumulated, polling the active job, and applying terminal
// transitions. At most one job is active at a time.
type Service struct {
	cfg      config.FineTuneConfig
	recorder *ExampleRecorder
	store    *StateStore
	swapper  ModelSwapper

	httpClient *http.Client
	logger     *logging.Logger
	clock      func() time.Time

	mu      sync.Mutex
	polling bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ServiceOption {
	return func(s *Service) { s.httpClient = client }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithServiceClock overrides the time source.
func WithServiceClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// NewService creates the fine-tuning service. swapper may be nil when the
// live client cannot be swapped.
func NewService(cfg config.FineTuneConfig, recorder *ExampleRecorder, store *StateStore, swapper ModelSwapper, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:        cfg,
		recorder:   recorder,
		store:      store,
		swapper:    swapper,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logging.GetLogger(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check is the scheduler entry point. With an active job it polls once;
// without one it submits a new job when enough examples have accumulated.
// The passed context must outlive the check: the background poller inherits
// it.
func (s *Service) Check(ctx context.Context) error {
	if err := errors.CheckContext(ctx, "fine-tuning check"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.store.Load()
	if err != nil {
		return err
	}

	if state.ActiveJobID != "" {
		if err := s.pollOnce(ctx, state); err != nil {
			return err
		}
		if state.ActiveJobID != "" {
			s.startPoller(ctx)
		}
		return nil
	}

	count := s.recorder.Count()
	if count < s.cfg.MinExamples {
		s.logger.Debug(ctx, "fine-tuning: %d of %d examples accumulated", count, s.cfg.MinExamples)
		return nil
	}

	return s.submit(ctx, state)
}

// submit uploads the accumulator and creates a job. Caller holds mu.
func (s *Service) submit(ctx context.Context, state *State) error {
	fileID, err := s.uploadTrainingFile(ctx)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "fine-tuning file uploaded: %s", fileID)

	job, err := s.createJob(ctx, fileID)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "fine-tuning job created: %s", job.ID)

	if state.BaseModelID == "" {
		state.BaseModelID = s.baseModel()
	}
	state.ActiveJobID = job.ID
	state.UpdatedAt = s.clock()
	if err := s.store.Save(state); err != nil {
		return err
	}

	s.startPoller(ctx)
	return nil
}

// pollOnce fetches the active job and applies its status. Caller holds mu.
func (s *Service) pollOnce(ctx context.Context, state *State) error {
	job, err := s.fetchJob(ctx, state.ActiveJobID)
	if err != nil {
		return err
	}
	return s.applyJobStatus(ctx, state, job)
}

// applyJobStatus performs the terminal transition exactly once: the active
// job id is cleared in the same critical section that records history.
func (s *Service) applyJobStatus(ctx context.Context, state *State, job *jobResponse) error {
	switch job.Status {
	case StatusSucceeded:
		state.History = append(state.History, JobRecord{
			ID:         job.ID,
			Status:     job.Status,
			Model:      job.FineTunedModel,
			CreatedAt:  time.Unix(job.CreatedAt, 0).UTC(),
			FinishedAt: s.clock(),
		})
		state.ActiveModelID = job.FineTunedModel
		state.ActiveJobID = ""
		state.UpdatedAt = s.clock()
		if err := s.store.Save(state); err != nil {
			return err
		}

		if s.swapper != nil && job.FineTunedModel != "" {
			s.swapper.SetModelID(job.FineTunedModel)
		}
		if err := s.recorder.Trim(s.cfg.ExamplesToKeep); err != nil {
			s.logger.Warn(ctx, "failed to trim fine-tuning examples: %v", err)
		}
		s.logger.Info(ctx, "fine-tuning job %s succeeded, active model is now %s", job.ID, job.FineTunedModel)
		return nil

	case StatusFailed, StatusCancelled:
		record := JobRecord{
			ID:         job.ID,
			Status:     job.Status,
			CreatedAt:  time.Unix(job.CreatedAt, 0).UTC(),
			FinishedAt: s.clock(),
		}
		if job.Error != nil {
			record.Err = job.Error.Message
		}
		state.History = append(state.History, record)
		state.ActiveJobID = ""
		state.UpdatedAt = s.clock()
		if err := s.store.Save(state); err != nil {
			return err
		}

		s.logger.Warn(ctx, "fine-tuning job %s ended with status %s", job.ID, job.Status)
		return nil

	default:
		s.logger.Debug(ctx, "fine-tuning job %s status: %s", job.ID, job.Status)
		return nil
	}
}

// startPoller launches the backoff poll loop unless one is already running.
// Caller holds mu.
func (s *Service) startPoller(ctx context.Context) {
	if s.polling {
		return
	}
	s.polling = true
	go s.pollLoop(ctx)
}

func (s *Service) pollLoop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.polling = false
		s.mu.Unlock()
	}()

	interval := s.cfg.PollBaseInterval.Std()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	maxInterval := s.cfg.PollMaxInterval.Std()
	if maxInterval <= 0 {
		maxInterval = 10 * time.Minute
	}
	maxPolls := s.cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 40
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for poll := 0; poll < maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		state, err := s.store.Load()
		if err != nil {
			s.mu.Unlock()
			s.logger.Error(ctx, "fine-tuning poll: %v", err)
			return
		}
		if state.ActiveJobID == "" {
			s.mu.Unlock()
			return
		}
		pollErr := s.pollOnce(ctx, state)
		done := state.ActiveJobID == ""
		s.mu.Unlock()

		if pollErr != nil {
			s.logger.Warn(ctx, "fine-tuning poll failed: %v", pollErr)
		}
		if done {
			return
		}

		interval *= 2
		if interval > maxInterval {
			interval = maxInterval
		}
		timer.Reset(interval)
	}

	// Poll budget exhausted; the next scheduled Check resumes.
}

func (s *Service) baseModel() string {
	if s.cfg.BaseModel != "" {
		return s.cfg.BaseModel
	}
	return "gpt-4o"
}

func (s *Service) baseURL() string {
	if s.cfg.BaseURL != "" {
		return s.cfg.BaseURL
	}
	return defaultFineTuneBaseURL
}

func (s *Service) apiKey() string {
	if s.cfg.APIKey != "" {
		return s.cfg.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

// Fine-tuning API wire format.
type fileResponse struct {
	ID string `json:"id"`
}

type jobRequest struct {
	TrainingFile string `json:"training_file"`
	Model        string `json:"model"`
}

type jobError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type jobResponse struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	Model          string    `json:"model"`
	FineTunedModel string    `json:"fine_tuned_model"`
	CreatedAt      int64     `json:"created_at"`
	Error          *jobError `json:"error,omitempty"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// uploadTrainingFile posts the accumulator as a multipart training file and
// returns the file id.
func (s *Service) uploadTrainingFile(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.recorder.Path())
	if err != nil {
		return "", errors.Wrap(err, errors.StorageFailed, "failed to read training data")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", "fine-tune"); err != nil {
		return "", errors.Wrap(err, errors.Unknown, "failed to write form field")
	}
	part, err := w.CreateFormFile("file", filepath.Base(s.recorder.Path()))
	if err != nil {
		return "", errors.Wrap(err, errors.Unknown, "failed to create form file")
	}
	if _, err := part.Write(data); err != nil {
		return "", errors.Wrap(err, errors.Unknown, "failed to write form file")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, errors.Unknown, "failed to finalize form")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL()+"/v1/files", &buf)
	if err != nil {
		return "", errors.Wrap(err, errors.Unknown, "failed to create request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey())

	var resp fileResponse
	if err := s.do(req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New(errors.InvalidResponse, "file upload returned no id")
	}
	return resp.ID, nil
}

// createJob starts a fine-tuning job for the uploaded file.
func (s *Service) createJob(ctx context.Context, fileID string) (*jobResponse, error) {
	body, err := json.Marshal(jobRequest{TrainingFile: fileID, Model: s.baseModel()})
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to marshal job request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL()+"/v1/fine_tuning/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey())

	var resp jobResponse
	if err := s.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, errors.New(errors.InvalidResponse, "job creation returned no id")
	}
	return &resp, nil
}

// fetchJob retrieves the current status of a job.
func (s *Service) fetchJob(ctx context.Context, jobID string) (*jobResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL()+"/v1/fine_tuning/jobs/"+jobID, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey())

	var resp jobResponse
	if err := s.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *Service) do(req *http.Request, out interface{}) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.FineTuneFailed, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, errors.FineTuneFailed, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiErrorResponse
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error.Message == "" {
			return errors.WithFields(
				errors.New(errors.FineTuneFailed, "API request failed"),
				errors.Fields{"status": resp.StatusCode, "body": string(body)})
		}
		return errors.WithFields(
			errors.New(errors.FineTuneFailed, apiErr.Error.Message),
			errors.Fields{"status": resp.StatusCode, "type": apiErr.Error.Type})
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, errors.InvalidResponse, "failed to parse response")
	}
	return nil
}
