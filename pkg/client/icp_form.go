package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"revintel/pkg/domain"
)

// ICPSubmitter submits an ICP generation job. *Client satisfies this.
type ICPSubmitter interface {
	GenerateICP(ctx context.Context, req GenerateICPRequest) (string, error)
}

// FormPhase is the submission controller's lifecycle state.
type FormPhase string

const (
	PhaseIdle      FormPhase = "idle"
	PhasePolling   FormPhase = "polling"
	PhaseSucceeded FormPhase = "succeeded"
	PhaseFailed    FormPhase = "failed"
)

// ICPFormState is a snapshot of the controller for rendering.
type ICPFormState struct {
	Phase        FormPhase
	JobID        string
	Progress     int
	Stage        string
	FieldErrors  map[string]string
	ErrorMessage string
	Profile      *domain.ICPProfile
}

// ICPFormConfig wires the controller's collaborators.
type ICPFormConfig struct {
	Submitter ICPSubmitter
	Poller    *Poller
	// Navigate is invoked with the destination path after a successful
	// generation, once NavigateDelay has elapsed without cancellation.
	Navigate func(path string)
	// NavigateDelay defaults to 2s.
	NavigateDelay time.Duration
	// Notify shows a dismissible toast. Optional.
	Notify func(message string)
}

// ICPForm drives the generate-ICP widget: validate, submit, watch the
// job, merge the result, then auto-navigate. One instance per widget;
// re-submission replaces any in-flight job.
type ICPForm struct {
	cfg ICPFormConfig

	mu        sync.Mutex
	state     ICPFormState
	stopWatch func()
	navTimer  *time.Timer
}

// NewICPForm builds the controller in the idle phase.
func NewICPForm(cfg ICPFormConfig) *ICPForm {
	if cfg.NavigateDelay <= 0 {
		cfg.NavigateDelay = 2 * time.Second
	}
	return &ICPForm{
		cfg:   cfg,
		state: ICPFormState{Phase: PhaseIdle},
	}
}

// State returns a copy of the current state for rendering.
func (f *ICPForm) State() ICPFormState {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.state
	if f.state.FieldErrors != nil {
		s.FieldErrors = make(map[string]string, len(f.state.FieldErrors))
		for k, v := range f.state.FieldErrors {
			s.FieldErrors[k] = v
		}
	}
	return s
}

// ValidateICPForm checks required fields and returns a field-keyed
// error map. An empty map means the form is valid.
func ValidateICPForm(req GenerateICPRequest) map[string]string {
	errs := make(map[string]string)
	if strings.TrimSpace(req.ProductName) == "" {
		errs["productName"] = "product name is required"
	}
	if strings.TrimSpace(req.ProductDescription) == "" {
		errs["productDescription"] = "product description is required"
	}
	if strings.TrimSpace(req.DistinguishingFeature) == "" {
		errs["distinguishingFeature"] = "distinguishing feature is required"
	}
	if req.BusinessModel == "" {
		errs["businessModel"] = "business model is required"
	} else if !domain.ValidBusinessModel(req.BusinessModel) {
		errs["businessModel"] = "invalid business model"
	}
	return errs
}

// Submit validates the form and, when valid, submits a generation job
// and starts watching it. On validation failure the returned map holds
// exactly the offending field keys and nothing is sent over the wire.
// Submitting again while a previous job is in flight replaces it.
func (f *ICPForm) Submit(ctx context.Context, req GenerateICPRequest) map[string]string {
	if errs := ValidateICPForm(req); len(errs) > 0 {
		f.mu.Lock()
		f.state.FieldErrors = errs
		f.mu.Unlock()
		return errs
	}

	f.cancelNavigation()
	f.mu.Lock()
	if f.stopWatch != nil {
		f.stopWatch()
		f.stopWatch = nil
	}
	f.state = ICPFormState{Phase: PhaseIdle}
	f.mu.Unlock()

	jobID, err := f.cfg.Submitter.GenerateICP(ctx, req)
	if err != nil {
		f.fail(err.Error())
		return nil
	}

	f.mu.Lock()
	f.state.Phase = PhasePolling
	f.state.JobID = jobID
	f.mu.Unlock()

	stop := f.cfg.Poller.Watch(ctx, jobID, WatchCallbacks{
		OnStatusUpdate: f.onStatusUpdate,
		OnComplete:     f.onComplete,
		OnError:        f.fail,
	})
	f.mu.Lock()
	f.stopWatch = stop
	f.mu.Unlock()
	return nil
}

// Close stops any in-flight watch and cancels a pending navigation.
func (f *ICPForm) Close() {
	f.cancelNavigation()
	f.mu.Lock()
	if f.stopWatch != nil {
		f.stopWatch()
		f.stopWatch = nil
	}
	f.mu.Unlock()
}

// CancelNavigation aborts a scheduled auto-navigate, e.g. when the
// user moves away on their own.
func (f *ICPForm) CancelNavigation() {
	f.cancelNavigation()
}

func (f *ICPForm) onStatusUpdate(u StatusUpdate) {
	f.mu.Lock()
	f.state.Progress = u.Progress
	f.state.Stage = progressStageText(u.Progress)
	f.mu.Unlock()
}

func (f *ICPForm) onComplete(result json.RawMessage) {
	var profile domain.ICPProfile
	if err := json.Unmarshal(result, &profile); err != nil {
		f.fail("received malformed generation result")
		return
	}

	var timer *time.Timer
	if f.cfg.Navigate != nil {
		timer = time.AfterFunc(f.cfg.NavigateDelay, func() {
			f.cfg.Navigate("/dashboard?widget=icp-overview")
		})
	}

	f.mu.Lock()
	f.state.Phase = PhaseSucceeded
	f.state.Progress = 100
	f.state.Stage = progressStageText(100)
	f.state.Profile = &profile
	f.state.ErrorMessage = ""
	f.navTimer = timer
	f.mu.Unlock()
}

// fail records the failure and surfaces the message verbatim. The
// form stays submittable.
func (f *ICPForm) fail(message string) {
	if message == "" {
		message = "generation failed, please try again"
	}
	f.mu.Lock()
	f.state.Phase = PhaseFailed
	f.state.ErrorMessage = message
	f.mu.Unlock()
	if f.cfg.Notify != nil {
		f.cfg.Notify(message)
	}
}

func (f *ICPForm) cancelNavigation() {
	f.mu.Lock()
	timer := f.navTimer
	f.navTimer = nil
	f.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// progressStageText maps progress to the overlay caption. Cosmetic
// only.
func progressStageText(progress int) string {
	switch {
	case progress >= 100:
		return "Done"
	case progress >= 70:
		return "Finalizing profile"
	case progress >= 40:
		return "Generating personas"
	case progress >= 15:
		return "Analyzing product"
	default:
		return "Queued"
	}
}
