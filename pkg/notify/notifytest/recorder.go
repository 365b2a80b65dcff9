// Package notifytest provides a recording sink for engine tests.
package notifytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/notify"
)

// Recorder keeps every event it receives. Err, when set, is returned from
// every call after recording.
type Recorder struct {
	mu  sync.Mutex
	Err error

	Spawns    []entity.BossStatus
	Updates   []entity.BossSnapshot
	Defeats   []notify.BossOutcome
	Despawns  []notify.BossOutcome
	Issued    []entity.Challenge
	Closed    map[string][]entity.Challenge
	States    []entity.Battle
	Ends      []entity.BattleResult
	Abandoned []entity.Battle

	refs int
}

var _ notify.Sink = (*Recorder)(nil)

func New() *Recorder {
	return &Recorder{Closed: make(map[string][]entity.Challenge)}
}

func (r *Recorder) AnnounceBossSpawn(_ context.Context, _ entity.Server, status entity.BossStatus) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Spawns = append(r.Spawns, status)
	r.refs++
	return fmt.Sprintf("ref-%d", r.refs), r.Err
}

func (r *Recorder) UpdateBossNotification(_ context.Context, _ string, snap entity.BossSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updates = append(r.Updates, snap)
	return r.Err
}

func (r *Recorder) AnnounceBossDefeat(_ context.Context, out notify.BossOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Defeats = append(r.Defeats, out)
	return r.Err
}

func (r *Recorder) AnnounceBossDespawn(_ context.Context, out notify.BossOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Despawns = append(r.Despawns, out)
	return r.Err
}

func (r *Recorder) ChallengeIssued(_ context.Context, c entity.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Issued = append(r.Issued, c)
	return r.Err
}

func (r *Recorder) ChallengeClosed(_ context.Context, c entity.Challenge, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed[reason] = append(r.Closed[reason], c)
	return r.Err
}

func (r *Recorder) RenderArenaState(_ context.Context, b entity.Battle, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.States = append(r.States, b)
	return r.Err
}

func (r *Recorder) RenderBattleEnd(_ context.Context, res entity.BattleResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Ends = append(r.Ends, res)
	return r.Err
}

func (r *Recorder) BattleAbandoned(_ context.Context, b entity.Battle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Abandoned = append(r.Abandoned, b)
	return r.Err
}

// Counts returns defeat and despawn totals under the lock.
func (r *Recorder) Counts() (defeats, despawns int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Defeats), len(r.Despawns)
}
