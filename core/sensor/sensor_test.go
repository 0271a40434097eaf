package sensor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/taxifleet/core/wire"
	"github.com/kilianp07/taxifleet/infra/logger"
)

func TestFrameRoundTrip(t *testing.T) {
	st := Status{CanMove: false, Importance: ImportanceMajor, Reason: ReasonObstacle}
	got, err := DecodeStatus(EncodeStatus(st))
	require.NoError(t, err)
	assert.Equal(t, st, got)

	r, err := DecodeReply(EncodeReply(Reply{OrderedToStop: true}))
	require.NoError(t, err)
	assert.True(t, r.OrderedToStop)

	bad := EncodeStatus(st)
	bad[3] ^= 0xff
	_, err = DecodeStatus(bad)
	assert.Error(t, err)
}

func TestImportance(t *testing.T) {
	assert.Equal(t, 5*time.Second, ImportanceMinor.Duration())
	assert.Equal(t, 15*time.Second, ImportanceNormal.Duration())
	assert.Equal(t, 30*time.Second, ImportanceMajor.Duration())
	i, err := ParseImportance("major")
	require.NoError(t, err)
	assert.Equal(t, ImportanceMajor, i)
	_, err = ParseImportance("catastrophic")
	assert.Error(t, err)
}

// fakeTaxi acknowledges the link and forwards every status it receives.
func fakeTaxi(t *testing.T) (string, <-chan Status) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	out := make(chan Status, 64)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if f, err := wire.Read(conn); err != nil || f[0] != wire.ENQ {
			return
		}
		if err := wire.Write(conn, wire.Control(wire.ACK)); err != nil {
			return
		}
		for {
			f, err := wire.Read(conn)
			if err != nil {
				close(out)
				return
			}
			st, err := DecodeStatus(f)
			if err != nil {
				continue
			}
			out <- st
			if err := wire.Write(conn, EncodeReply(Reply{})); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String(), out
}

func TestAgentReportsIncidentsThenFatal(t *testing.T) {
	addr, statuses := fakeTaxi(t)
	a := NewAgent(Config{TaxiAddr: addr, Interval: 10 * time.Millisecond, Timeout: time.Second}, logger.NopLogger{})

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	first := <-statuses
	assert.True(t, first.CanMove)

	a.Report(Incident{Importance: ImportanceMinor, Reason: ReasonPedestrian})
	require.Eventually(t, func() bool {
		st := <-statuses
		return !st.CanMove && st.Reason == ReasonPedestrian
	}, 2*time.Second, time.Millisecond)

	a.Report(Incident{Importance: ImportanceFatal, Reason: ReasonBreakdown})
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrFatal)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop after fatal incident")
	}
}

func TestAgentStopsOnCancel(t *testing.T) {
	addr, _ := fakeTaxi(t)
	a := NewAgent(Config{TaxiAddr: addr, Interval: 10 * time.Millisecond}, logger.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestAgentGivesUpOnSilentTaxi(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = wire.Read(conn)
		_, _ = wire.Read(conn)
	}()

	a := NewAgent(Config{TaxiAddr: ln.Addr().String(), Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond}, logger.NopLogger{})
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, wire.IsTimeout(err), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent kept waiting for the link reply")
	}
}
