package main

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/pgtenant/pkg/provisioner"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestRunHostStopDuringFirstRegistration(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	started := make(chan struct{})
	var cancelled atomic.Bool

	register := func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		cancelled.Store(true)
	}

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		runHost(context.Background(), sigCh, register, testLogger())
	}()

	<-started
	sigCh <- syscall.SIGTERM

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("runHost did not return after SIGTERM")
	}
	assert.True(t, cancelled.Load(), "the registration in flight must finish before runHost returns")
}

func TestRunHostReregistersOnSIGHUP(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	calls := make(chan struct{}, 4)
	register := func(ctx context.Context) { calls <- struct{}{} }

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		runHost(context.Background(), sigCh, register, testLogger())
	}()

	<-calls
	// Give the first registration time to be marked done
	time.Sleep(20 * time.Millisecond)
	sigCh <- syscall.SIGHUP
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("SIGHUP did not trigger a registration")
	}

	sigCh <- syscall.SIGINT
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("runHost did not return after SIGINT")
	}
}

func TestRunHostReturnsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	register := func(ctx context.Context) { <-ctx.Done() }

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		runHost(ctx, make(chan os.Signal), register, testLogger())
	}()
	cancel()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("runHost did not return after cancellation")
	}
}

func TestFailureForPicksTargetByPosition(t *testing.T) {
	billErr := errors.New("register /x/bill: invalid tenant path")
	billingErr := errors.New("register /x/billing: connection timeout")
	errs := provisioner.TargetErrors{billingErr, nil, billErr}

	var err error = errs
	var targetErrs provisioner.TargetErrors
	require.True(t, errors.As(err, &targetErrs))

	assert.Same(t, billingErr, failureFor(targetErrs, 0, err))
	assert.Same(t, billErr, failureFor(targetErrs, 2, err))
	assert.Equal(t, err, failureFor(targetErrs, 1, err))
	assert.Equal(t, err, failureFor(nil, 0, err))
}
