package playback

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/cuelist/internal/app/lifecycle"
	"github.com/osa030/cuelist/internal/app/notification"
	"github.com/osa030/cuelist/internal/domain/playlist"
)

var testConfig = Config{
	SuspendGrace:     2 * time.Second,
	AdvanceDelay:     0,
	ProgressInterval: time.Second,
}

func TestController_PlayByID_StartsSession(t *testing.T) {
	h := newHarness(t, testConfig, "t1", "t2")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })

	assert.Equal(t, []string{"t1"}, h.opener.Opened())
	st := h.opener.Last(t, "t1")
	assert.Equal(t, []string{"play"}, st.Calls())

	snap := h.snapshot()
	assert.Equal(t, StateStreaming, snap.State)
	assert.Equal(t, "t1", snap.EntryID)
	assert.Equal(t, PhaseConnecting, snap.Phase)

	st.Sink().Connected()
	st.Sink().Buffering(10, 100)
	assert.Equal(t, PhaseBuffering, h.snapshot().Phase)

	st.Sink().Started()
	snap = h.snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, PhasePlaying, snap.Phase)
	assert.Equal(t, lifecycle.Status{Playing: true}, h.status("t1"))

	states := ofType(h.drain(), notification.TypePlaybackState)
	require.Len(t, states, 3)
	assert.Equal(t, "resolving", states[0].State)
	assert.Equal(t, "streaming", states[1].State)
	assert.Equal(t, "playing", states[2].State)
}

func TestController_UnknownEntry(t *testing.T) {
	h := newHarness(t, testConfig, "t1")

	var err error
	h.do(func(c *Controller) { err = c.PlayByID("missing") })
	assert.ErrorIs(t, err, playlist.ErrUnknownEntry)

	h.do(func(c *Controller) { err = c.PauseByID("missing") })
	assert.ErrorIs(t, err, playlist.ErrUnknownEntry)

	assert.Equal(t, StateStopped, h.snapshot().State)
	assert.Empty(t, h.opener.Opened())

	errs := ofType(h.drain(), notification.TypeError)
	require.Len(t, errs, 2)
	assert.Equal(t, playlist.KindUnknownEntry, errs[0].Code)
	assert.Equal(t, "missing", errs[0].EntryID)
}

func TestController_FinishAdvancesToNext(t *testing.T) {
	h := newHarness(t, testConfig, "t1", "t2", "t3")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	first := h.opener.Last(t, "t1")
	first.Sink().Started()
	first.Sink().Finished()

	assert.Equal(t, []string{"t1", "t2"}, h.opener.Opened())
	assert.Equal(t, lifecycle.Status{}, h.status("t1"))
	assert.Equal(t, "t2", h.snapshot().EntryID)

	h.opener.Last(t, "t2").Sink().Started()
	assert.Equal(t, []string{"t2"}, h.playing())
	// A finished stream is not stopped again.
	assert.Equal(t, []string{"play"}, first.Calls())
}

func TestController_FinishOnLastEntryStaysIdle(t *testing.T) {
	h := newHarness(t, testConfig, "t1")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	st := h.opener.Last(t, "t1")
	st.Sink().Started()
	st.Sink().Finished()

	snap := h.snapshot()
	assert.Equal(t, StateFinished, snap.State)
	assert.Equal(t, "", snap.EntryID)
	assert.Equal(t, []string{"t1"}, h.opener.Opened())
}

func TestController_AdvanceDelay(t *testing.T) {
	cfg := testConfig
	cfg.AdvanceDelay = 20 * time.Millisecond
	h := newHarness(t, cfg, "t1", "t2")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	st := h.opener.Last(t, "t1")
	st.Sink().Started()
	st.Sink().Finished()

	assert.Equal(t, []string{"t1"}, h.opener.Opened())
	assert.Eventually(t, func() bool {
		return h.snapshot().EntryID == "t2"
	}, time.Second, 5*time.Millisecond)
}

func TestController_ExplicitCommandCancelsPendingAdvance(t *testing.T) {
	cfg := testConfig
	cfg.AdvanceDelay = 30 * time.Millisecond
	h := newHarness(t, cfg, "t1", "t2", "t3")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	st := h.opener.Last(t, "t1")
	st.Sink().Started()
	st.Sink().Finished()
	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t3")) })

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"t1", "t3"}, h.opener.Opened())
	assert.Equal(t, "t3", h.snapshot().EntryID)
}

func TestController_StaleResolutionIsDiscarded(t *testing.T) {
	h := newHarness(t, testConfig, "t1", "t2")

	// Both commands run in one task, so t1's resolution is delivered after
	// t2 already owns the pointer.
	h.do(func(c *Controller) {
		require.NoError(t, c.PlayByID("t1"))
		require.NoError(t, c.PlayByID("t2"))
	})

	orphan := h.opener.Last(t, "t1")
	assert.Equal(t, []string{"stop"}, orphan.Calls())
	assert.Nil(t, orphan.Sink())

	h.opener.Last(t, "t2").Sink().Started()

	assert.Equal(t, lifecycle.Status{Playing: true}, h.status("t2"))
	assert.Equal(t, lifecycle.Status{}, h.status("t1"))

	count, err := testutil.GatherAndCount(h.metrics.Registry(), "cuelist_stale_signals_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestController_StaleCallbacksAfterSwitch(t *testing.T) {
	h := newHarness(t, testConfig, "t1", "t2")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	old := h.opener.Last(t, "t1")
	old.Sink().Started()

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t2")) })
	assert.Equal(t, []string{"play", "stop"}, old.Calls())
	assert.Equal(t, lifecycle.Status{}, h.status("t1"))

	// Late callbacks from the superseded stream change nothing.
	old.Sink().Started()
	old.Sink().Finished()
	old.Sink().Failed(errors.New("late"))

	assert.Equal(t, lifecycle.Status{}, h.status("t1"))
	snap := h.snapshot()
	assert.Equal(t, "t2", snap.EntryID)
	assert.Equal(t, []string{"t1", "t2"}, h.opener.Opened())
	assert.Empty(t, ofType(h.drain(), notification.TypeError))
}

func TestController_AtMostOnePlaying(t *testing.T) {
	h := newHarness(t, testConfig, "t1", "t2", "t3")

	steps := []string{"t1", "t2", "t1", "t3", "t3", "t2"}
	for _, id := range steps {
		h.do(func(c *Controller) { require.NoError(t, c.PlayByID(id)) })
		if st := h.opener.Last(t, id); st.Sink() != nil {
			st.Sink().Started()
		}
		assert.LessOrEqual(t, len(h.playing()), 1)
		assert.Equal(t, []string{id}, h.playing())
	}
}

func TestController_PauseIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig, "t1")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	st := h.opener.Last(t, "t1")
	st.Sink().Started()

	h.do(func(c *Controller) { require.NoError(t, c.PauseByID("t1")) })
	before := h.snapshot()
	h.do(func(c *Controller) { require.NoError(t, c.PauseByID("t1")) })
	after := h.snapshot()

	assert.Equal(t, before, after)
	assert.Equal(t, StatePaused, after.State)
	assert.Equal(t, []string{"play", "pause"}, st.Calls())
	assert.Equal(t, []string{"t1"}, h.opener.Opened())
	assert.Equal(t, lifecycle.Status{Paused: true}, h.status("t1"))
}

func TestController_PlayResumesPausedCurrent(t *testing.T) {
	h := newHarness(t, testConfig, "t1")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	st := h.opener.Last(t, "t1")
	st.Sink().Started()
	h.do(func(c *Controller) { require.NoError(t, c.PauseByID("t1")) })
	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })

	assert.Equal(t, []string{"play", "pause", "resume"}, st.Calls())
	assert.Equal(t, []string{"t1"}, h.opener.Opened())
	assert.Equal(t, StatePlaying, h.snapshot().State)
	assert.Equal(t, lifecycle.Status{Playing: true}, h.status("t1"))

	// Playing an entry that is already playing is a no-op.
	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	assert.Equal(t, []string{"play", "pause", "resume"}, st.Calls())
}

func TestController_PauseNonCurrentStartsPaused(t *testing.T) {
	h := newHarness(t, testConfig, "t1", "t2")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	h.opener.Last(t, "t1").Sink().Started()

	h.do(func(c *Controller) { require.NoError(t, c.PauseByID("t2")) })
	st := h.opener.Last(t, "t2")
	st.Sink().Started()

	assert.Equal(t, []string{"play", "pause"}, st.Calls())
	assert.Equal(t, lifecycle.Status{Paused: true}, h.status("t2"))
	assert.Equal(t, lifecycle.Status{}, h.status("t1"))
	assert.Equal(t, StatePaused, h.snapshot().State)
}

func TestController_PauseWhileStartingIsDeferred(t *testing.T) {
	h := newHarness(t, testConfig, "t1")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	h.do(func(c *Controller) { require.NoError(t, c.PauseByID("t1")) })
	st := h.opener.Last(t, "t1")
	assert.Equal(t, []string{"play"}, st.Calls())

	st.Sink().Started()
	assert.Equal(t, []string{"play", "pause"}, st.Calls())
	assert.Equal(t, lifecycle.Status{Paused: true}, h.status("t1"))

	// A play before start cancels the deferred pause.
	h2 := newHarness(t, testConfig, "t1")
	h2.do(func(c *Controller) {
		require.NoError(t, c.PlayByID("t1"))
	})
	h2.do(func(c *Controller) {
		require.NoError(t, c.PauseByID("t1"))
		require.NoError(t, c.PlayByID("t1"))
	})
	st2 := h2.opener.Last(t, "t1")
	st2.Sink().Started()
	assert.Equal(t, []string{"play"}, st2.Calls())
	assert.Equal(t, lifecycle.Status{Playing: true}, h2.status("t1"))
}

func TestController_StopCurrent(t *testing.T) {
	h := newHarness(t, testConfig, "t1")

	h.do(func(c *Controller) { c.StopCurrent() })
	assert.Equal(t, StateStopped, h.snapshot().State)

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	st := h.opener.Last(t, "t1")
	st.Sink().Started()

	h.do(func(c *Controller) { c.StopCurrent() })
	h.do(func(c *Controller) { c.StopCurrent() })

	assert.Equal(t, []string{"play", "stop"}, st.Calls())
	snap := h.snapshot()
	assert.Equal(t, StateStopped, snap.State)
	assert.Equal(t, "", snap.EntryID)
	assert.Equal(t, lifecycle.Status{}, h.status("t1"))
}

func TestController_ProviderStop(t *testing.T) {
	h := newHarness(t, testConfig, "t1", "t2")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	st := h.opener.Last(t, "t1")
	st.Sink().Started()
	st.Sink().Stopped()

	snap := h.snapshot()
	assert.Equal(t, StateStopped, snap.State)
	assert.Equal(t, "", snap.EntryID)
	assert.Equal(t, lifecycle.Status{}, h.status("t1"))
	// No auto-advance after a stop.
	assert.Equal(t, []string{"t1"}, h.opener.Opened())
}

func TestController_ProviderPauseAndResume(t *testing.T) {
	h := newHarness(t, testConfig, "t1")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	st := h.opener.Last(t, "t1")
	st.Sink().Started()

	st.Sink().Paused()
	assert.Equal(t, lifecycle.Status{Paused: true}, h.status("t1"))
	assert.Equal(t, PhasePaused, h.snapshot().Phase)

	st.Sink().Resumed()
	assert.Equal(t, lifecycle.Status{Playing: true}, h.status("t1"))
	assert.Equal(t, StatePlaying, h.snapshot().State)
}

func TestController_StreamError(t *testing.T) {
	h := newHarness(t, testConfig, "t1", "t2")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	st := h.opener.Last(t, "t1")
	st.Sink().Started()
	h.drain()

	st.Sink().Failed(errors.New("connection reset"))

	assert.Equal(t, lifecycle.Status{Paused: true}, h.status("t1"))
	assert.Empty(t, h.playing())
	snap := h.snapshot()
	assert.Equal(t, StateErrored, snap.State)
	assert.Equal(t, "", snap.EntryID)
	assert.Equal(t, []string{"play", "stop"}, st.Calls())
	// Errors are not retried.
	assert.Equal(t, []string{"t1"}, h.opener.Opened())

	errs := ofType(h.drain(), notification.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, playlist.KindStream, errs[0].Code)
	assert.Contains(t, errs[0].Message, "connection reset")
}

func TestController_OpenFailure(t *testing.T) {
	h := newHarness(t, testConfig, "t1")
	h.opener.errs["t1"] = errors.New("track unavailable")

	var err error
	h.do(func(c *Controller) { err = c.PlayByID("t1") })
	require.NoError(t, err)

	snap := h.snapshot()
	assert.Equal(t, StateErrored, snap.State)
	assert.Equal(t, "", snap.EntryID)
	assert.Equal(t, lifecycle.Status{Paused: true}, h.status("t1"))

	errs := ofType(h.drain(), notification.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, playlist.KindResolution, errs[0].Code)
}

func TestController_PauseFailureIsStreamError(t *testing.T) {
	h := newHarness(t, testConfig, "t1")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	st := h.opener.Last(t, "t1")
	st.pauseErr = errors.New("device gone")
	st.Sink().Started()

	var err error
	h.do(func(c *Controller) { err = c.PauseByID("t1") })
	assert.ErrorIs(t, err, playlist.ErrStream)
	assert.Equal(t, StateErrored, h.snapshot().State)
}

func TestController_SuspendConfirmedAfterGrace(t *testing.T) {
	tests := []struct {
		name     string
		progress func(st *fakeStream)
	}{
		{name: "playing progress resumes", progress: func(st *fakeStream) { st.Sink().Playing(30*time.Second, 3*time.Minute) }},
		{name: "loading progress resumes", progress: func(st *fakeStream) { st.Sink().Loading(2048, 4096) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig
			cfg.SuspendGrace = 10 * time.Millisecond
			h := newHarness(t, cfg, "t1")

			h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
			st := h.opener.Last(t, "t1")
			st.Sink().Started()
			st.Sink().Suspended()

			assert.Eventually(t, func() bool {
				return h.snapshot().State == StateSuspended
			}, time.Second, 5*time.Millisecond)
			assert.Equal(t, PhaseSuspended, h.snapshot().Phase)
			assert.Equal(t, lifecycle.Status{Paused: true}, h.status("t1"))

			tt.progress(st)
			h.sync()
			assert.Equal(t, StatePlaying, h.snapshot().State)
			assert.Equal(t, PhasePlaying, h.snapshot().Phase)
			assert.Equal(t, lifecycle.Status{Playing: true}, h.status("t1"))
		})
	}
}

func TestController_ProgressCancelsSuspend(t *testing.T) {
	tests := []struct {
		name     string
		progress func(c *fakeStream)
	}{
		{name: "while playing", progress: func(st *fakeStream) { st.Sink().Playing(time.Second, time.Minute) }},
		{name: "while loading", progress: func(st *fakeStream) { st.Sink().Loading(2048, 4096) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig
			cfg.SuspendGrace = 40 * time.Millisecond
			h := newHarness(t, cfg, "t1")

			h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
			st := h.opener.Last(t, "t1")
			st.Sink().Started()
			st.Sink().Suspended()
			tt.progress(st)

			time.Sleep(120 * time.Millisecond)
			assert.Equal(t, StatePlaying, h.snapshot().State)
			assert.Equal(t, lifecycle.Status{Playing: true}, h.status("t1"))
		})
	}
}

func TestController_ProgressIsThrottled(t *testing.T) {
	cfg := testConfig
	cfg.ProgressInterval = time.Hour
	h := newHarness(t, cfg, "t1")

	h.do(func(c *Controller) { require.NoError(t, c.PlayByID("t1")) })
	st := h.opener.Last(t, "t1")
	st.Sink().Started()
	h.drain()

	st.Sink().Playing(time.Second, time.Minute)
	st.Sink().Playing(2*time.Second, time.Minute)

	progress := ofType(h.drain(), notification.TypeProgress)
	require.Len(t, progress, 1)
	assert.Equal(t, int64(1000), progress[0].Progress.PositionMs)
	assert.Equal(t, int64(60000), progress[0].Progress.DurationMs)
}

func TestController_TokensIncrease(t *testing.T) {
	h := newHarness(t, testConfig, "t1", "t2")

	var tokens []uint64
	for _, id := range []string{"t1", "t2", "t1"} {
		h.do(func(c *Controller) { require.NoError(t, c.PlayByID(id)) })
		tokens = append(tokens, h.snapshot().Token)
	}
	assert.Equal(t, []uint64{1, 2, 3}, tokens)
}
