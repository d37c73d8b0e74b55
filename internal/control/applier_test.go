package control

import (
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/wifi-cw-sim/internal/nodepath"
)

type write struct {
	scope string
	name  string
	value uint32
}

type recordingWriter struct {
	writes []write
	err    error
}

func (r *recordingWriter) SetParameter(scope, name string, value uint32) error {
	if r.err != nil {
		return r.err
	}
	r.writes = append(r.writes, write{scope, name, value})
	return nil
}

func TestWindowSize(t *testing.T) {
	cases := map[int]uint32{0: 16, 1: 32, 2: 64, 6: 1024}
	for x, want := range cases {
		if got := WindowSize(x); got != want {
			t.Fatalf("WindowSize(%d) = %d, want %d", x, got, want)
		}
	}
}

func TestApplyGlobalWritesMinAndMax(t *testing.T) {
	w := &recordingWriter{}
	a := NewApplier(w, nil)

	applied, err := a.ApplyGlobal(context.Background(), 2)
	if err != nil || !applied {
		t.Fatalf("ApplyGlobal = %v, %v", applied, err)
	}
	want := []write{
		{nodepath.TxopAll(), ParamMinCw, 64},
		{nodepath.TxopAll(), ParamMaxCw, 64},
	}
	if len(w.writes) != len(want) {
		t.Fatalf("writes = %+v, want %+v", w.writes, want)
	}
	for i := range want {
		if w.writes[i] != want[i] {
			t.Fatalf("write %d = %+v, want %+v", i, w.writes[i], want[i])
		}
	}
}

func TestApplyStationWritesMinOnly(t *testing.T) {
	w := &recordingWriter{}
	a := NewApplier(w, nil)

	if _, err := a.ApplyStation(context.Background(), 3, 1); err != nil {
		t.Fatalf("ApplyStation: %v", err)
	}
	if len(w.writes) != 1 {
		t.Fatalf("writes = %+v, want one", w.writes)
	}
	got := w.writes[0]
	if got.scope != "/NodeList/3/DeviceList/*/$ns3::WifiNetDevice/Mac/BE_Txop" || got.name != ParamMinCw || got.value != 32 {
		t.Fatalf("write = %+v", got)
	}
}

func TestNegativeExponentIsNoop(t *testing.T) {
	w := &recordingWriter{}
	a := NewApplier(w, nil)
	ctx := context.Background()

	if applied, _ := a.ApplyGlobal(ctx, -1); applied {
		t.Fatalf("ApplyGlobal(-1) applied")
	}
	if applied, _ := a.ApplyStation(ctx, 1, -1); applied {
		t.Fatalf("ApplyStation(-1) applied")
	}
	if len(w.writes) != 0 {
		t.Fatalf("writes = %+v, want none", w.writes)
	}
}

func TestOversizedExponentIsIgnored(t *testing.T) {
	w := &recordingWriter{}
	a := NewApplier(w, nil)
	ctx := context.Background()

	for _, x := range []int{maxExponent + 1, 40} {
		if applied, err := a.ApplyGlobal(ctx, x); err != nil || applied {
			t.Fatalf("ApplyGlobal(%d) = %v, %v; want false, nil", x, applied, err)
		}
		if applied, err := a.ApplyStation(ctx, 1, x); err != nil || applied {
			t.Fatalf("ApplyStation(%d) = %v, %v; want false, nil", x, applied, err)
		}
	}
	if len(w.writes) != 0 {
		t.Fatalf("writes = %+v, want none", w.writes)
	}

	if _, err := a.ApplyStation(ctx, 1, maxExponent); err != nil {
		t.Fatalf("ApplyStation(max): %v", err)
	}
	if len(w.writes) != 1 || w.writes[0].value != 1<<31 {
		t.Fatalf("writes = %+v, want one of 2^31", w.writes)
	}
}

func TestApplyErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	a := NewApplier(&recordingWriter{err: boom}, nil)
	if _, err := a.ApplyGlobal(ctx, 0); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}
