package agent

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/signalsfoundry/wifi-cw-sim/internal/exchange"
)

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{"wifi": KindNone, "": KindNone, "UCB": KindUCB, "egreedy": KindEGreedy}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseKind("thompson"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestReward(t *testing.T) {
	var env exchange.Environment
	if r := Reward(env, 0); r != 0 {
		t.Fatalf("reward without traffic = %v, want 0", r)
	}
	env.Tx[1] = 100
	env.Collisions[1] = 25
	if r := Reward(env, 1); r != 0.75 {
		t.Fatalf("reward = %v, want 0.75", r)
	}
}

func TestUCBTriesEveryArmFirst(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	b := NewUCB(4, 0.01)
	seen := map[int]bool{}
	for i := 0; i < 4; i++ {
		arm := b.Select(rng)
		seen[arm] = true
		b.Update(arm, 0.1)
	}
	if len(seen) != 4 {
		t.Fatalf("arms tried = %v, want all four", seen)
	}
}

func TestBanditsConvergeOnBestArm(t *testing.T) {
	rewards := []float64{0.2, 0.9, 0.4}
	for name, b := range map[string]Bandit{
		"ucb":     NewUCB(3, 0.01),
		"egreedy": NewEGreedy(3, 0.05, 1.0),
	} {
		rng := rand.New(rand.NewPCG(7, 7))
		counts := make([]int, 3)
		for i := 0; i < 500; i++ {
			arm := b.Select(rng)
			counts[arm]++
			b.Update(arm, rewards[arm])
		}
		if counts[1] < 400 {
			t.Fatalf("%s picked the best arm %d/500 times (%v)", name, counts[1], counts)
		}
	}
}

func TestDecideWithoutWarmupEndsImmediately(t *testing.T) {
	a, err := New(Config{Kind: KindEGreedy}, 2, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	act := a.Decide(context.Background(), exchange.Environment{})
	if !act.EndWarmup {
		t.Fatalf("EndWarmup = false without warmup")
	}
	for i := 0; i < 2; i++ {
		if act.CW[i] < 0 || act.CW[i] >= 7 {
			t.Fatalf("cw[%d] = %d, want an arm in [0,7)", i, act.CW[i])
		}
		if a.Last(i) != int(act.CW[i]) {
			t.Fatalf("Last(%d) = %d, want %d", i, a.Last(i), act.CW[i])
		}
	}
	for i := 2; i < exchange.Capacity; i++ {
		if act.CW[i] != -1 {
			t.Fatalf("cw[%d] = %d, want -1 for a non-cheater", i, act.CW[i])
		}
	}
}

func TestWarmupEndsWhenChoicesSettle(t *testing.T) {
	a, err := New(Config{Kind: KindUCB, Arms: 1, UseWarmup: true, MaxWarmup: time.Hour}, 1, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	// With a single arm every choice is identical; the history must fill first.
	for i := 1; i < 20; i++ {
		if act := a.Decide(ctx, exchange.Environment{Time: float64(i)}); act.EndWarmup {
			t.Fatalf("warmup ended after %d decisions, want 20", i)
		}
	}
	if act := a.Decide(ctx, exchange.Environment{Time: 20}); !act.EndWarmup {
		t.Fatalf("warmup did not end after a settled history")
	}
}

func TestWarmupEndsAfterMaxWarmup(t *testing.T) {
	a, err := New(Config{Kind: KindEGreedy, UseWarmup: true, MaxWarmup: 10 * time.Second}, 1, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if act := a.Decide(ctx, exchange.Environment{Time: 5}); act.EndWarmup {
		t.Fatalf("warmup ended before max warmup with one decision")
	}
	if act := a.Decide(ctx, exchange.Environment{Time: 10.5}); !act.EndWarmup {
		t.Fatalf("warmup did not end after max warmup")
	}
}

func TestDominantShare(t *testing.T) {
	if got := dominantShare([]int{1, 1, 1, 2}); got != 0.75 {
		t.Fatalf("dominantShare = %v, want 0.75", got)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New(Config{Kind: KindUCB}, 0, nil); err == nil {
		t.Fatalf("expected error for zero cheaters")
	}
	if _, err := New(Config{Kind: KindUCB}, exchange.Capacity+1, nil); err == nil {
		t.Fatalf("expected error for too many cheaters")
	}
	if _, err := New(Config{Kind: KindNone}, 1, nil); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind for the no-agent kind", err)
	}
}

func TestRunOverChannel(t *testing.T) {
	a, err := New(Config{Kind: KindUCB, Seed: 3}, 2, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch := exchange.NewChannel(exchange.DefaultKey)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx, ch) }()

	for i := 0; i < 3; i++ {
		act, err := ch.Exchange(ctx, exchange.Environment{Time: float64(i) / 2})
		if err != nil {
			t.Fatalf("Exchange %d: %v", i, err)
		}
		if !act.EndWarmup || act.CW[0] < 0 || act.CW[2] != -1 {
			t.Fatalf("action %d = %+v", i, act)
		}
	}
	ch.Finish()

	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.Decisions() != 3 {
		t.Fatalf("Decisions = %d, want 3", a.Decisions())
	}
}

func TestExchangeHonoursContext(t *testing.T) {
	a, err := New(Config{Kind: KindUCB}, 1, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Exchange(ctx, exchange.Environment{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
