package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/actiongate/internal/action"
	"github.com/danmuck/actiongate/internal/testutil/testlog"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestWatchdogFiresAfterFeedbackStops(t *testing.T) {
	testlog.Start(t)
	cfg := fastConfig()
	c, client, rec := newTestCoordinator(t, cfg)

	snap, err := c.SendGoal(context.Background())
	require.NoError(t, err)
	g := nextGoal(t, client)

	time.Sleep(50 * time.Millisecond)
	g.SendFeedback()
	stoppedAt := time.Now()

	final := waitFinished(t, c, 3*time.Second)
	detected := final.FinishedAt.Sub(stoppedAt)
	require.Equal(t, StatusTimedOut, final.Status)
	require.Equal(t, OriginWatchdog, final.CancelOrigin)
	require.Equal(t, ErrTimedOut.Error(), final.Error)
	require.GreaterOrEqual(t, detected, cfg.StaleAfter)
	require.LessOrEqual(t, detected, cfg.StaleAfter+cfg.PollInterval+50*time.Millisecond)

	c.Wait()
	require.Equal(t, 1, rec.count(EventWatchdogFired, snap.GoalID))
	require.EqualValues(t, 1, g.Cancels())
	require.Equal(t, 1, rec.count(EventCancelAcked, snap.GoalID))
	require.Equal(t, 1, rec.count(EventFinished, snap.GoalID))

	fired, ok := rec.first(EventWatchdogFired)
	require.True(t, ok)
	require.GreaterOrEqual(t, fired.Idle, cfg.StaleAfter)
}

func TestWatchdogWithoutAnyFeedback(t *testing.T) {
	testlog.Start(t)
	cfg := fastConfig()
	c, client, _ := newTestCoordinator(t, cfg)

	snap, err := c.SendGoal(context.Background())
	require.NoError(t, err)
	nextGoal(t, client)

	final := waitFinished(t, c, 3*time.Second)
	require.Equal(t, StatusTimedOut, final.Status)
	require.Zero(t, final.FeedbackCount)
	require.GreaterOrEqual(t, final.FinishedAt.Sub(snap.CreatedAt), cfg.StaleAfter)
}

func TestSteadyFeedbackKeepsGoalAlive(t *testing.T) {
	testlog.Start(t)
	cfg := fastConfig()
	c, client, rec := newTestCoordinator(t, cfg)

	_, err := c.SendGoal(context.Background())
	require.NoError(t, err)
	g := nextGoal(t, client)

	// Gaps just under the threshold never trip the watchdog.
	gap := cfg.StaleAfter - 3*cfg.PollInterval
	for i := 0; i < 3; i++ {
		time.Sleep(gap)
		g.SendFeedback()
	}
	g.Finish(action.GoalSucceeded, 0)

	final := waitFinished(t, c, time.Second)
	require.Equal(t, StatusSucceeded, final.Status)
	require.Equal(t, 3, final.FeedbackCount)
	require.Zero(t, rec.count(EventWatchdogFired, uuid.Nil))
	require.Zero(t, g.Cancels())
}

func TestWatchdogIgnoresFinishedGoal(t *testing.T) {
	testlog.Start(t)
	cfg := fastConfig()
	c, client, rec := newTestCoordinator(t, cfg)

	_, err := c.SendGoal(context.Background())
	require.NoError(t, err)
	nextGoal(t, client).Finish(action.GoalSucceeded, 0)
	waitFinished(t, c, time.Second)

	time.Sleep(cfg.StaleAfter + 2*cfg.PollInterval)
	require.Zero(t, rec.count(EventWatchdogFired, uuid.Nil))
	last, _ := c.Last()
	require.Equal(t, StatusSucceeded, last.Status)
}

// Every ordering of result, watchdog and external cancel writes exactly one terminal status.
func TestNoDoubleTerminalWrite(t *testing.T) {
	testlog.Start(t)
	cfg := fastConfig()
	cfg.StaleAfter = MinPollInterval
	c, client, rec := newTestCoordinator(t, cfg)

	for i := 0; i < 20; i++ {
		// Odd rounds answer the cancel the way an actuator does once the goal has ended.
		var cancelErr error
		if i%2 == 1 {
			cancelErr = action.ErrGoalTerminated
		}
		client.SetCancelError(cancelErr)

		snap, err := c.SendGoal(context.Background())
		require.NoError(t, err)
		g := nextGoal(t, client)

		// Land all three contenders around the first watchdog tick.
		time.Sleep(cfg.PollInterval - 5*time.Millisecond + time.Duration(i%5)*2*time.Millisecond)
		var wg sync.WaitGroup
		var ackErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.Finish(action.GoalSucceeded, 0)
		}()
		go func() {
			defer wg.Done()
			if ack, err := c.CancelGoal(context.Background()); err == nil {
				ackErr = <-ack
			}
		}()
		wg.Wait()
		c.Wait()

		last, ok := c.Last()
		require.True(t, ok)
		require.Equal(t, snap.GoalID, last.GoalID)
		require.True(t, last.Done)
		require.Equal(t, 1, rec.count(EventFinished, snap.GoalID), "goal %d finished more than once", i)
		require.LessOrEqual(t, g.Cancels(), int64(1))
		require.LessOrEqual(t, rec.count(EventWatchdogFired, snap.GoalID), 1)

		if cancelErr != nil {
			// A terminated goal always has a result to report, so the cancel never decides.
			require.Contains(t, []Status{StatusSucceeded, StatusTimedOut}, last.Status, "round %d", i)
		} else {
			require.Contains(t, []Status{StatusSucceeded, StatusCanceled, StatusTimedOut}, last.Status, "round %d", i)
		}
		switch last.Status {
		case StatusTimedOut:
			require.Equal(t, OriginWatchdog, last.CancelOrigin)
		case StatusCanceled:
			require.Equal(t, OriginExternal, last.CancelOrigin)
			require.NoError(t, ackErr)
		}
	}
}

// A result delivered before an external cancel keeps its status, and the cancel
// reports the goal as already terminal.
func TestResultBeforeCancelKeepsSucceeded(t *testing.T) {
	testlog.Start(t)
	c, client, rec := newTestCoordinator(t, fastConfig())
	client.SetCancelError(action.ErrGoalTerminated)

	for i := 0; i < 50; i++ {
		snap, err := c.SendGoal(context.Background())
		require.NoError(t, err)
		nextGoal(t, client).Finish(action.GoalSucceeded, 0)

		ack, err := c.CancelGoal(context.Background())
		if err != nil {
			require.ErrorIs(t, err, ErrNoValidGoalExists)
		} else {
			select {
			case err := <-ack:
				require.ErrorIs(t, err, ErrGoalAlreadyTerminal, "round %d", i)
			case <-time.After(2 * time.Second):
				t.Fatalf("round %d: cancel was never acknowledged", i)
			}
		}
		c.Wait()

		last, ok := c.Last()
		require.True(t, ok)
		require.Equal(t, snap.GoalID, last.GoalID)
		require.Equal(t, StatusSucceeded, last.Status, "round %d", i)
		require.Empty(t, last.Error)
		require.Equal(t, 1, rec.count(EventFinished, snap.GoalID))
	}
}
