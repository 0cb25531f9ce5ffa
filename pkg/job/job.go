// Package job runs firmware history fetches as cancellable, single-flight
// jobs and exposes their state as snapshots.
package job

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mordilloSan/go-logger/logger"

	"github.com/paulstuart/fwhistory/pkg/model"
	"github.com/paulstuart/fwhistory/pkg/parser"
	"github.com/paulstuart/fwhistory/pkg/telemetry"
)

// Sources fetches the raw history payloads. An empty body means the source
// has nothing for the device.
type Sources interface {
	FetchPrimary(ctx context.Context, model, region string) (string, error)
	FetchSecondaryXML(ctx context.Context, model, region string) (string, error)
}

// ChangelogSource fetches the changelogs for a device.
type ChangelogSource interface {
	GetChangelogs(ctx context.Context, model, region string) (*model.ChangelogIndex, error)
}

// State is the lifecycle state of a job. Every state but Running is idle.
type State int

const (
	Idle State = iota
	Running
	Succeeded
	Failed
	Cancelled
)

// String returns a lowercase name for the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Messages are the status lines shown to the user.
type Messages struct {
	HistoryError       string
	HistoryErrorFormat string // one %s verb for the parse error
}

// DefaultMessages are the English status lines.
var DefaultMessages = Messages{
	HistoryError:       "Error retrieving firmware history. Make sure the model and region are correct.",
	HistoryErrorFormat: "Error retrieving firmware history: %s",
}

// Snapshot is a copy of the job state at one point in time.
type Snapshot struct {
	State      State
	Running    bool
	RunID      string
	Model      string
	Region     string
	StatusText string
	Items      []model.HistoryInfo
	Changelogs *model.ChangelogIndex
}

// Job fetches the firmware history for one model and region at a time.
type Job struct {
	sources    Sources
	changelogs ChangelogSource
	body       parser.HistoryBodyParser
	notifier   telemetry.Notifier
	tracer     *telemetry.Tracer
	messages   Messages

	mu          sync.Mutex
	state       State
	runID       string
	deviceModel string
	region      string
	status      string
	items       []model.HistoryInfo
	index       *model.ChangelogIndex
	gen         uint64
	cancel      context.CancelFunc
	done        chan struct{}
	subs        map[int]chan Snapshot
	nextSub     int
}

// Option configures a Job.
type Option func(*Job)

// WithChangelogs enables the changelog fetch after a successful parse.
func WithChangelogs(src ChangelogSource) Option {
	return func(j *Job) { j.changelogs = src }
}

// WithBodyParser replaces the parser used for the primary source.
func WithBodyParser(p parser.HistoryBodyParser) Option {
	return func(j *Job) { j.body = p }
}

// WithNotifier sets where unexpected failures are reported.
func WithNotifier(n telemetry.Notifier) Option {
	return func(j *Job) { j.notifier = n }
}

// WithTracer sets the tracer wrapping each run in a span.
func WithTracer(t *telemetry.Tracer) Option {
	return func(j *Job) { j.tracer = t }
}

// WithMessages replaces the status lines shown on failure.
func WithMessages(m Messages) Option {
	return func(j *Job) { j.messages = m }
}

// New creates an idle job.
func New(sources Sources, opts ...Option) *Job {
	j := &Job{
		sources:  sources,
		body:     parser.HTMLParser{},
		messages: DefaultMessages,
		subs:     make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.tracer == nil {
		j.tracer = telemetry.NewTracer(nil)
	}
	if j.notifier == nil {
		j.notifier = j.tracer
	}
	return j
}

// Start begins a fetch for model and region. It does nothing and returns
// false when either is blank or a fetch is already running.
func (j *Job) Start(ctx context.Context, deviceModel, region string) bool {
	if strings.TrimSpace(deviceModel) == "" || strings.TrimSpace(region) == "" {
		return false
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state == Running {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	j.gen++
	j.state = Running
	j.runID = uuid.NewString()
	j.deviceModel = deviceModel
	j.region = region
	j.status = ""
	j.items = nil
	j.index = nil
	j.cancel = cancel
	j.done = make(chan struct{})
	j.publishLocked()

	logger.InfoKV("history fetch started", "model", deviceModel, "region", region, "run", j.runID)
	go j.run(runCtx, j.gen, j.runID, deviceModel, region, j.done)
	return true
}

// Cancel ends the running fetch with an empty status. Items and changelogs
// keep whatever the run had committed, which is nothing.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != Running {
		return
	}
	j.gen++
	j.state = Cancelled
	j.status = ""
	j.cancel()
	j.publishLocked()
	logger.Infof("history fetch %s cancelled", j.runID)
}

// Wait blocks until the goroutine of the latest run has returned.
func (j *Job) Wait() {
	j.mu.Lock()
	done := j.done
	j.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Snapshot returns the current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

// Subscribe returns a channel that always holds the latest snapshot, starting
// with the current one. Slow readers skip intermediate snapshots. The returned
// func unsubscribes and closes the channel.
func (j *Job) Subscribe() (<-chan Snapshot, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan Snapshot, 1)
	id := j.nextSub
	j.nextSub++
	j.subs[id] = ch
	ch <- j.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			j.mu.Lock()
			defer j.mu.Unlock()
			delete(j.subs, id)
			close(ch)
		})
	}
}

// ChangelogFor returns the changelog published for info's build, if any.
func (j *Job) ChangelogFor(info model.HistoryInfo) (model.Changelog, bool) {
	j.mu.Lock()
	idx := j.index
	j.mu.Unlock()
	return idx.Lookup(info.FirmwareString)
}

// Handoff builds the data passed to the download or decrypt flow for info.
func (j *Job) Handoff(target model.HandoffTarget, info model.HistoryInfo) model.Handoff {
	j.mu.Lock()
	defer j.mu.Unlock()
	return model.Handoff{
		Target:   target,
		Model:    j.deviceModel,
		Region:   j.region,
		Firmware: info.FirmwareString,
		Manual:   target == model.HandoffDownload,
	}
}

func (j *Job) run(ctx context.Context, gen uint64, runID, deviceModel, region string, done chan struct{}) {
	defer close(done)

	ctx, span := j.tracer.StartFetch(ctx, runID, deviceModel, region)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			j.fail(ctx, gen, fmt.Errorf("history fetch panicked: %v", r))
		}
	}()

	primary, secondary, err := j.fetchSources(ctx, deviceModel, region)
	if ctx.Err() != nil {
		j.cancelled(gen)
		return
	}
	if err != nil {
		j.fail(ctx, gen, err)
		return
	}

	outcome := parser.Parse(ctx, primary, secondary, j.body)
	if ctx.Err() != nil {
		j.cancelled(gen)
		return
	}

	switch outcome.Kind {
	case parser.Empty:
		logger.Warnf("no firmware history for %s/%s", deviceModel, region)
		j.finish(gen, Failed, j.messages.HistoryError, false, nil, nil)

	case parser.ParseError:
		logger.Errorf("failed to parse %s history for %s/%s: %v", outcome.Source, deviceModel, region, outcome.Err)
		j.finish(gen, Failed, fmt.Sprintf(j.messages.HistoryErrorFormat, outcome.Err.Error()), false, nil, nil)

	case parser.Success:
		logger.Infof("parsed %d history entries from %s source", len(outcome.Items), outcome.Source)
		index := j.fetchChangelogs(ctx, deviceModel, region)
		if ctx.Err() != nil {
			j.cancelled(gen)
			return
		}
		j.finish(gen, Succeeded, "", true, outcome.Items, index)
	}
}

// fetchSources fetches both sources concurrently and waits for both.
func (j *Job) fetchSources(ctx context.Context, deviceModel, region string) (string, string, error) {
	var (
		wg                    sync.WaitGroup
		primary, secondary    string
		primaryErr, secondErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		primary, primaryErr = guard(func() (string, error) {
			return j.sources.FetchPrimary(ctx, deviceModel, region)
		})
	}()
	go func() {
		defer wg.Done()
		secondary, secondErr = guard(func() (string, error) {
			return j.sources.FetchSecondaryXML(ctx, deviceModel, region)
		})
	}()
	wg.Wait()

	if err := errors.Join(primaryErr, secondErr); err != nil {
		return "", "", err
	}
	return primary, secondary, nil
}

// guard turns a panic in fetch into an error, since the run goroutine cannot
// recover panics raised on other goroutines.
func guard(fetch func() (string, error)) (body string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source panicked: %v", r)
		}
	}()
	return fetch()
}

// fetchChangelogs never fails the run; a missing changelog only loses notes.
func (j *Job) fetchChangelogs(ctx context.Context, deviceModel, region string) *model.ChangelogIndex {
	if j.changelogs == nil {
		return nil
	}
	index, err := j.changelogs.GetChangelogs(ctx, deviceModel, region)
	if err != nil {
		logger.Warnf("Error retrieving changelogs for %s/%s: %v", deviceModel, region, err)
		return nil
	}
	return index
}

// fail reports an unexpected error and ends the run with a generic status.
func (j *Job) fail(ctx context.Context, gen uint64, err error) {
	logger.Errorf("history fetch failed: %v", err)
	j.notifier.Notify(ctx, err)

	status := j.messages.HistoryError
	if msg := err.Error(); msg != "" {
		status += "\n\n" + msg
	}
	j.finish(gen, Failed, status, false, nil, nil)
}

func (j *Job) cancelled(gen uint64) {
	j.finish(gen, Cancelled, "", false, nil, nil)
}

// finish ends run gen. Items and changelogs are written together, and only
// when commit is set. A run that was cancelled or superseded changes nothing.
func (j *Job) finish(gen uint64, state State, status string, commit bool, items []model.HistoryInfo, index *model.ChangelogIndex) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if gen != j.gen || j.state != Running {
		return
	}
	j.state = state
	j.status = status
	if commit {
		j.items = items
		j.index = index
	}
	j.cancel()
	j.publishLocked()
	logger.InfoKV("history fetch finished", "run", j.runID, "state", state.String(), "items", len(j.items))
}

func (j *Job) snapshotLocked() Snapshot {
	return Snapshot{
		State:      j.state,
		Running:    j.state == Running,
		RunID:      j.runID,
		Model:      j.deviceModel,
		Region:     j.region,
		StatusText: j.status,
		Items:      slices.Clone(j.items),
		Changelogs: j.index,
	}
}

func (j *Job) publishLocked() {
	snap := j.snapshotLocked()
	for _, ch := range j.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
