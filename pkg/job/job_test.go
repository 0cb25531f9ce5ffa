package job_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulstuart/fwhistory/pkg/job"
	"github.com/paulstuart/fwhistory/pkg/model"
)

const versionXML = `<versioninfo><firmware><version>
<latest o="13">A/B</latest>
<upgrade><value>X/Y/Z</value><value>  </value></upgrade>
</version></firmware></versioninfo>`

type stubSources struct {
	primary, secondary       string
	primaryErr, secondaryErr error
	block                    chan struct{} // when set, fetches wait on it or ctx
	panicMsg                 string
	calls                    atomic.Int32
}

func (s *stubSources) fetch(ctx context.Context, body string, err error) (string, error) {
	s.calls.Add(1)
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return body, err
}

func (s *stubSources) FetchPrimary(ctx context.Context, _, _ string) (string, error) {
	return s.fetch(ctx, s.primary, s.primaryErr)
}

func (s *stubSources) FetchSecondaryXML(ctx context.Context, _, _ string) (string, error) {
	return s.fetch(ctx, s.secondary, s.secondaryErr)
}

type stubChangelogs struct {
	index    *model.ChangelogIndex
	err      error
	block    chan struct{} // when set, GetChangelogs waits on it
	honorCtx bool          // also stop waiting when ctx is done
	calls    atomic.Int32
}

func (s *stubChangelogs) GetChangelogs(ctx context.Context, _, _ string) (*model.ChangelogIndex, error) {
	s.calls.Add(1)
	if s.block != nil {
		done := ctx.Done()
		if !s.honorCtx {
			done = nil
		}
		select {
		case <-s.block:
		case <-done:
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.index, nil
}

type stubBodyParser struct {
	items []model.HistoryInfo
	err   error
}

func (s stubBodyParser) ParseHistory(context.Context, string) ([]model.HistoryInfo, error) {
	return s.items, s.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	errs []error
}

func (n *recordingNotifier) Notify(_ context.Context, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errs)
}

func changelogIndex() *model.ChangelogIndex {
	return &model.ChangelogIndex{
		Model:  "SM-G991B",
		Region: "EUX",
		Changelogs: map[string]model.Changelog{
			"A": {Firmware: "A", Notes: "security fixes"},
		},
	}
}

func TestJobSuccessFromXML(t *testing.T) {
	changelogs := &stubChangelogs{index: changelogIndex()}
	j := job.New(&stubSources{secondary: versionXML}, job.WithChangelogs(changelogs))

	require.True(t, j.Start(context.Background(), "SM-G991B", "EUX"))
	j.Wait()

	snap := j.Snapshot()
	assert.Equal(t, job.Succeeded, snap.State)
	assert.False(t, snap.Running)
	assert.Empty(t, snap.StatusText)
	assert.NotEmpty(t, snap.RunID)
	assert.Equal(t, []model.HistoryInfo{
		{AndroidVersion: "13", FirmwareString: "A/B/A/A"},
		{FirmwareString: "X/Y/Z/X"},
	}, snap.Items)
	require.NotNil(t, snap.Changelogs)
	assert.EqualValues(t, 1, changelogs.calls.Load())

	cl, ok := j.ChangelogFor(snap.Items[0])
	require.True(t, ok)
	assert.Equal(t, "security fixes", cl.Notes)

	_, ok = j.ChangelogFor(snap.Items[1])
	assert.False(t, ok)
}

func TestJobPrefersPrimary(t *testing.T) {
	items := []model.HistoryInfo{{FirmwareString: "P/C/P/P"}}
	j := job.New(
		&stubSources{primary: "<html/>", secondary: versionXML},
		job.WithBodyParser(stubBodyParser{items: items}),
	)

	require.True(t, j.Start(context.Background(), "SM-G991B", "EUX"))
	j.Wait()

	assert.Equal(t, items, j.Snapshot().Items)
}

func TestJobBothSourcesEmpty(t *testing.T) {
	changelogs := &stubChangelogs{index: changelogIndex()}
	sources := &stubSources{}
	j := job.New(sources, job.WithChangelogs(changelogs))

	require.True(t, j.Start(context.Background(), "SM-G991B", "EUX"))
	j.Wait()

	snap := j.Snapshot()
	assert.Equal(t, job.Failed, snap.State)
	assert.Equal(t, job.DefaultMessages.HistoryError, snap.StatusText)
	assert.Empty(t, snap.Items)
	assert.Nil(t, snap.Changelogs)
	assert.EqualValues(t, 2, sources.calls.Load())
	assert.Zero(t, changelogs.calls.Load())
}

func TestJobParseError(t *testing.T) {
	j := job.New(
		&stubSources{primary: "<html/>"},
		job.WithBodyParser(stubBodyParser{err: errors.New("unexpected table layout")}),
	)

	require.True(t, j.Start(context.Background(), "SM-G991B", "EUX"))
	j.Wait()

	snap := j.Snapshot()
	assert.Equal(t, job.Failed, snap.State)
	assert.Equal(t, "Error retrieving firmware history: unexpected table layout", snap.StatusText)
	assert.Empty(t, snap.Items)
}

func TestJobChangelogFailureTolerated(t *testing.T) {
	changelogs := &stubChangelogs{err: errors.New("doc site down")}
	j := job.New(&stubSources{secondary: versionXML}, job.WithChangelogs(changelogs))

	require.True(t, j.Start(context.Background(), "SM-G991B", "EUX"))
	j.Wait()

	snap := j.Snapshot()
	assert.Equal(t, job.Succeeded, snap.State)
	assert.Empty(t, snap.StatusText)
	assert.Len(t, snap.Items, 2)
	assert.Nil(t, snap.Changelogs)
}

func TestJobStartGuards(t *testing.T) {
	sources := &stubSources{secondary: versionXML, block: make(chan struct{})}
	j := job.New(sources)

	assert.False(t, j.Start(context.Background(), "", "EUX"))
	assert.False(t, j.Start(context.Background(), "SM-G991B", "  "))
	assert.Equal(t, job.Idle, j.Snapshot().State)

	require.True(t, j.Start(context.Background(), "SM-G991B", "EUX"))
	before := j.Snapshot()

	assert.False(t, j.Start(context.Background(), "SM-S918B", "XAA"))
	after := j.Snapshot()
	assert.Equal(t, before, after)

	close(sources.block)
	j.Wait()
	assert.EqualValues(t, 2, sources.calls.Load())
	assert.Equal(t, "SM-G991B", j.Snapshot().Model)
}

func TestJobCancel(t *testing.T) {
	changelogs := &stubChangelogs{index: changelogIndex()}
	sources := &stubSources{secondary: versionXML, block: make(chan struct{})}
	j := job.New(sources, job.WithChangelogs(changelogs))

	require.True(t, j.Start(context.Background(), "SM-G991B", "EUX"))
	require.Eventually(t, func() bool { return sources.calls.Load() == 2 }, time.Second, time.Millisecond)

	j.Cancel()
	snap := j.Snapshot()
	assert.Equal(t, job.Cancelled, snap.State)
	assert.False(t, snap.Running)
	assert.Empty(t, snap.StatusText)
	assert.Empty(t, snap.Items)
	assert.Nil(t, snap.Changelogs)

	j.Wait()
	snap = j.Snapshot()
	assert.Equal(t, job.Cancelled, snap.State)
	assert.Empty(t, snap.Items)
	assert.Zero(t, changelogs.calls.Load())

	// A new run may start right after a cancel.
	sources.block = nil
	require.True(t, j.Start(context.Background(), "SM-G991B", "EUX"))
	j.Wait()
	assert.Equal(t, job.Succeeded, j.Snapshot().State)
}

func TestJobCancelDuringChangelogs(t *testing.T) {
	for _, tc := range []struct {
		name     string
		honorCtx bool
	}{
		{name: "changelogs arrive after cancel"},
		{name: "changelog fetch stops on cancel", honorCtx: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			changelogs := &stubChangelogs{index: changelogIndex(), block: make(chan struct{}), honorCtx: tc.honorCtx}
			j := job.New(&stubSources{secondary: versionXML}, job.WithChangelogs(changelogs))

			require.True(t, j.Start(context.Background(), "SM-G991B", "EUX"))
			require.Eventually(t, func() bool { return changelogs.calls.Load() == 1 }, time.Second, time.Millisecond)

			// The history is parsed by now but must not be visible on its own.
			assert.Empty(t, j.Snapshot().Items)

			j.Cancel()
			close(changelogs.block)
			j.Wait()

			snap := j.Snapshot()
			assert.Equal(t, job.Cancelled, snap.State)
			assert.Empty(t, snap.StatusText)
			assert.Empty(t, snap.Items)
			assert.Nil(t, snap.Changelogs)

			_, ok := j.ChangelogFor(model.HistoryInfo{FirmwareString: "A/B/A/A"})
			assert.False(t, ok)
		})
	}
}

func TestJobCancelWhenIdle(t *testing.T) {
	j := job.New(&stubSources{})
	j.Cancel()
	assert.Equal(t, job.Idle, j.Snapshot().State)
}

func TestJobParentContextCancelled(t *testing.T) {
	sources := &stubSources{secondary: versionXML, block: make(chan struct{})}
	j := job.New(sources)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, j.Start(ctx, "SM-G991B", "EUX"))
	cancel()
	j.Wait()

	snap := j.Snapshot()
	assert.Equal(t, job.Cancelled, snap.State)
	assert.Empty(t, snap.StatusText)
	assert.Empty(t, snap.Items)
}

func TestJobUnexpectedFailure(t *testing.T) {
	t.Run("source error", func(t *testing.T) {
		notifier := &recordingNotifier{}
		j := job.New(&stubSources{primaryErr: errors.New("bad endpoint")}, job.WithNotifier(notifier))

		require.True(t, j.Start(context.Background(), "SM-G991B", "EUX"))
		j.Wait()

		snap := j.Snapshot()
		assert.Equal(t, job.Failed, snap.State)
		assert.Equal(t, job.DefaultMessages.HistoryError+"\n\nbad endpoint", snap.StatusText)
		assert.Equal(t, 1, notifier.count())
	})

	t.Run("panic", func(t *testing.T) {
		notifier := &recordingNotifier{}
		j := job.New(&stubSources{panicMsg: "nil map"}, job.WithNotifier(notifier))

		require.True(t, j.Start(context.Background(), "SM-G991B", "EUX"))
		j.Wait()

		snap := j.Snapshot()
		assert.Equal(t, job.Failed, snap.State)
		assert.Contains(t, snap.StatusText, job.DefaultMessages.HistoryError)
		assert.Contains(t, snap.StatusText, "nil map")
		assert.Equal(t, 1, notifier.count())
	})
}

func TestJobSubscribe(t *testing.T) {
	sources := &stubSources{secondary: versionXML, block: make(chan struct{})}
	j := job.New(sources)

	updates, unsubscribe := j.Subscribe()
	defer unsubscribe()

	first := <-updates
	assert.Equal(t, job.Idle, first.State)

	require.True(t, j.Start(context.Background(), "SM-G991B", "EUX"))
	running := <-updates
	assert.True(t, running.Running)

	close(sources.block)
	j.Wait()
	done := <-updates
	assert.Equal(t, job.Succeeded, done.State)
	assert.Len(t, done.Items, 2)

	unsubscribe()
	_, open := <-updates
	assert.False(t, open)
}

func TestJobHandoff(t *testing.T) {
	j := job.New(&stubSources{secondary: versionXML})
	require.True(t, j.Start(context.Background(), "SM-G991B", "EUX"))
	j.Wait()

	info := j.Snapshot().Items[0]

	download := j.Handoff(model.HandoffDownload, info)
	assert.Equal(t, model.Handoff{
		Target:   model.HandoffDownload,
		Model:    "SM-G991B",
		Region:   "EUX",
		Firmware: "A/B/A/A",
		Manual:   true,
	}, download)

	decrypt := j.Handoff(model.HandoffDecrypt, info)
	assert.False(t, decrypt.Manual)
	assert.Equal(t, "A/B/A/A", decrypt.Firmware)
}
