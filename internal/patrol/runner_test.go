package patrol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func urlList(n int) []PatrolURL {
	urls := make([]PatrolURL, n)
	for i := range urls {
		urls[i] = PatrolURL{URL: fmt.Sprintf("https://shop.example.com/p/%d", i), Name: fmt.Sprintf("Page %d", i)}
	}
	return urls
}

func passTest(_ context.Context, _ Page, u PatrolURL, dev Device) TestResult {
	d := dev
	return TestResult{URL: u.URL, Name: u.Name, Status: StatusPass, Device: &d}
}

func TestRunnerConcurrencyCeiling(t *testing.T) {
	pool, _ := singlePagePool(func() (Page, error) { return newFakePage(), nil })
	runner := newBatchRunner(pool, zap.NewNop())
	require.NoError(t, runner.start(context.Background()))
	defer runner.close()

	task := &Task{
		URLs:   urlList(8),
		Config: Config{Concurrency: 2},
	}

	var mu sync.Mutex
	live, peak := 0, 0
	test := func(ctx context.Context, page Page, u PatrolURL, dev Device) TestResult {
		mu.Lock()
		live++
		if live > peak {
			peak = live
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		live--
		mu.Unlock()
		return passTest(ctx, page, u, dev)
	}

	results, err := runner.run(context.Background(), task, test)
	require.NoError(t, err)
	assert.Len(t, results, 8)
	assert.LessOrEqual(t, peak, 2, "no more than the configured number of page jobs run at once")
}

func TestRunnerResultsFollowInputOrder(t *testing.T) {
	pool, _ := singlePagePool(func() (Page, error) { return newFakePage(), nil })
	runner := newBatchRunner(pool, zap.NewNop())
	require.NoError(t, runner.start(context.Background()))
	defer runner.close()

	urls := urlList(5)
	task := &Task{URLs: urls, Config: Config{Concurrency: 5}}

	// Later jobs finish first; the result order must not care.
	test := func(ctx context.Context, page Page, u PatrolURL, dev Device) TestResult {
		var idx int
		fmt.Sscanf(u.URL, "https://shop.example.com/p/%d", &idx)
		time.Sleep(time.Duration(5-idx) * 5 * time.Millisecond)
		return passTest(ctx, page, u, dev)
	}

	results, err := runner.run(context.Background(), task, test)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, res := range results {
		assert.Equal(t, urls[i].URL, res.URL, "slot %d", i)
	}
}

func TestRunnerAcquireFailureIsExecutionWide(t *testing.T) {
	pool := &fakePool{acquire: func() (Browser, error) {
		return nil, errors.New("pool exhausted")
	}}
	runner := newBatchRunner(pool, zap.NewNop())

	err := runner.start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire browser")
}

func TestRunnerRepairsBrowserAtPageAcquisition(t *testing.T) {
	dead := &fakeBrowser{connected: false}
	dead.newCtx = func(Device) (DeviceContext, error) {
		return &fakeDeviceContext{newPage: func() (Page, error) {
			return nil, errors.New("browser has been closed")
		}}, nil
	}
	healthy := &fakeBrowser{connected: true}
	healthy.newCtx = func(Device) (DeviceContext, error) {
		return &fakeDeviceContext{newPage: func() (Page, error) { return newFakePage(), nil }}, nil
	}

	pool := &fakePool{}
	handed := 0
	pool.acquire = func() (Browser, error) {
		handed++
		if handed == 1 {
			return dead, nil
		}
		return healthy, nil
	}

	runner := newBatchRunner(pool, zap.NewNop())
	require.NoError(t, runner.start(context.Background()))

	task := &Task{URLs: urlList(1), Config: Config{}}
	results, err := runner.run(context.Background(), task, passTest)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusPass, results[0].Status, "the job survives one browser repair")

	runner.close()
	acquired, released := pool.counts()
	assert.Equal(t, 2, acquired)
	assert.Equal(t, 2, released, "both the dead and the replacement browser go back to the pool")
}

func TestRunnerBatchFailureAfterAttemptsDegrades(t *testing.T) {
	// The desktop batch runs; the mobile context cannot be created while
	// the browser stays connected. The run keeps going and fills the
	// mobile slots with synthesized infra failures.
	browser := &fakeBrowser{connected: true}
	browser.newCtx = func(dev Device) (DeviceContext, error) {
		if dev.Type == DeviceMobile {
			return nil, errors.New("emulation rejected")
		}
		return &fakeDeviceContext{newPage: func() (Page, error) { return newFakePage(), nil }}, nil
	}
	pool := &fakePool{acquire: func() (Browser, error) { return browser, nil }}

	runner := newBatchRunner(pool, zap.NewNop())
	require.NoError(t, runner.start(context.Background()))
	defer runner.close()

	urls := urlList(3)
	task := &Task{URLs: urls, Config: Config{Devices: []Device{
		DefaultDesktop(),
		{Type: DeviceMobile, Name: "Phone", Width: 390, Height: 844},
	}}}

	results, err := runner.run(context.Background(), task, passTest)
	require.NoError(t, err)
	require.Len(t, results, 6)

	for _, res := range results[:3] {
		assert.Equal(t, StatusPass, res.Status)
	}
	for _, res := range results[3:] {
		assert.Equal(t, StatusFail, res.Status)
		assert.True(t, res.InfraError)
		assert.Contains(t, res.ErrorMessage, "infrastructure error")
	}
}

func TestRunnerFirstBatchFailureFailsExecution(t *testing.T) {
	browser := &fakeBrowser{connected: true}
	browser.newCtx = func(Device) (DeviceContext, error) {
		return nil, errors.New("emulation rejected")
	}
	pool := &fakePool{acquire: func() (Browser, error) { return browser, nil }}

	runner := newBatchRunner(pool, zap.NewNop())
	require.NoError(t, runner.start(context.Background()))
	defer runner.close()

	task := &Task{URLs: urlList(2), Config: Config{}}
	_, err := runner.run(context.Background(), task, passTest)
	require.Error(t, err, "trouble before any URL attempt fails the whole run")
}
