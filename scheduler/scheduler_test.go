package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/repo"
	"github.com/notesync/notesync/repo/repotest"
	"github.com/notesync/notesync/scheduler"
)

const fast = 10 * time.Millisecond

func TestTickFetchesAndPushesPending(t *testing.T) {
	p := repotest.New(repo.KindGit)
	p.SetPending(2)

	var published []repo.Status
	s := scheduler.New(p, &repo.Guard{}, scheduler.WithPublisher(func(st repo.Status) {
		published = append(published, st)
	}))

	st, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{repotest.OpFetch, repotest.OpPush, repotest.OpStatus}, p.Calls())
	assert.Zero(t, st.PendingPushCount)
	require.Len(t, published, 1)
	assert.Equal(t, st, published[0])

	d := s.Details()
	assert.Equal(t, uint64(1), d.Ticks)
	assert.Equal(t, uint64(1), d.Pushes)
	assert.Empty(t, d.LastError)
	assert.False(t, d.LastRun.IsZero())
}

func TestTickNeverPulls(t *testing.T) {
	p := repotest.New(repo.KindGit)
	p.SetBehind(3)

	st, err := scheduler.New(p, &repo.Guard{}).Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, st.NeedsPull)
	assert.Equal(t, []string{repotest.OpFetch}, p.Calls())
}

func TestTickFailureIsRecorded(t *testing.T) {
	p := repotest.New(repo.KindGit)
	p.SetPending(1)
	p.FailOn(repotest.OpPush, errors.Newf(errors.CodeGitPushFailed, "git.push", "rejected"))

	published := 0
	s := scheduler.New(p, &repo.Guard{}, scheduler.WithPublisher(func(repo.Status) { published++ }))

	_, err := s.Tick(context.Background())
	require.Error(t, err)
	d := s.Details()
	assert.Equal(t, errors.CodeGitPushFailed, d.LastErrorCode)
	assert.Contains(t, d.LastError, "rejected")
	assert.Zero(t, d.Pushes)
	assert.Zero(t, published)

	p.FailOn(repotest.OpPush, nil)
	_, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Details().LastErrorCode)
}

func TestDisabledDoesNotRun(t *testing.T) {
	p := repotest.New(repo.KindGit)
	s := scheduler.New(p, &repo.Guard{})

	require.NoError(t, s.Start(context.Background(), repo.Interval{Enabled: false, IntervalSec: 1}))
	assert.False(t, s.Running())
	s.Stop()

	err := s.Start(context.Background(), repo.Interval{Enabled: true})
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestStartTicksAndRestarts(t *testing.T) {
	p := repotest.New(repo.KindGit)
	s := scheduler.New(p, &repo.Guard{})

	require.NoError(t, s.StartEvery(context.Background(), fast))
	assert.True(t, s.Running())
	assert.Equal(t, fast, s.Details().Interval)

	require.Eventually(t, func() bool { return p.Count(repotest.OpFetch) >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Start(context.Background(), repo.Interval{Enabled: true, IntervalSec: 2}))
	assert.True(t, s.Running())
	assert.Equal(t, 2*time.Second, s.Details().Interval)

	s.Stop()
	assert.False(t, s.Running())
}

func TestSlowTickSkipsNext(t *testing.T) {
	p := repotest.New(repo.KindGit)
	release := make(chan struct{})
	var entered atomic.Int32
	p.BeforeCall = func(op string) {
		if op == repotest.OpFetch && entered.Add(1) == 1 {
			<-release
		}
	}

	s := scheduler.New(p, &repo.Guard{})
	require.NoError(t, s.StartEvery(context.Background(), fast))

	require.Eventually(t, func() bool { return s.Details().Skipped >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), entered.Load(), "no second fetch while the first is in flight")

	_, err := s.Tick(context.Background())
	require.ErrorIs(t, err, scheduler.ErrTickInFlight)

	close(release)
	s.Stop()
	assert.GreaterOrEqual(t, s.Details().Ticks, uint64(1))
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	p := repotest.New(repo.KindGit)
	p.SetPending(1)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	p.BeforeCall = func(op string) {
		if op == repotest.OpFetch {
			once.Do(func() {
				close(started)
				<-release
			})
		}
	}

	s := scheduler.New(p, &repo.Guard{})
	require.NoError(t, s.StartEvery(context.Background(), fast))
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped

	calls := len(p.Calls())
	assert.Equal(t, []string{repotest.OpFetch, repotest.OpPush, repotest.OpStatus}, p.Calls())

	time.Sleep(10 * fast)
	assert.Len(t, p.Calls(), calls, "no provider call after Stop")
}

func TestTicksTakeTheWriteLock(t *testing.T) {
	p := repotest.New(repo.KindGit)
	guard := &repo.Guard{}
	s := scheduler.New(p, guard)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = guard.Read(func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	done := make(chan struct{})
	go func() {
		_, _ = s.Tick(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("tick ran while a reader held the guard")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done
}

func TestConcurrentRestartsLeaveNoLoopBehind(t *testing.T) {
	p := repotest.New(repo.KindGit)

	for range 200 {
		s := scheduler.New(p, &repo.Guard{})

		start := make(chan struct{})
		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				assert.NoError(t, s.StartEvery(context.Background(), time.Millisecond))
			}()
		}
		close(start)
		wg.Wait()

		assert.True(t, s.Running())
		s.Stop()
		assert.False(t, s.Running())
	}

	fetches := p.Count(repotest.OpFetch)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, fetches, p.Count(repotest.OpFetch), "no fetch after Stop")
}
