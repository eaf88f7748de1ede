// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/toeirei/tpcbridge/internal/session"
	"github.com/toeirei/tpcbridge/internal/tpc"
)

// State is the participant's position in the protocol.
type State int

const (
	StateInit State = iota
	StateVoted
	StateFinished
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateVoted:
		return "voted"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// sortKeyPrefix starts with two 0xff bytes, which never occur in UTF-8, so
// participant keys sort after every text key and every key below "\xff\xff".
const sortKeyPrefix = "\xff\xff" + "tpcbridge:"

type step uint8

const (
	stepBegin step = 1 << iota
	stepCommit
	stepVote
	stepFinish
)

func (s step) String() string {
	switch s {
	case stepBegin:
		return "tpc_begin"
	case stepCommit:
		return "commit"
	case stepVote:
		return "tpc_vote"
	default:
		return "tpc_finish"
	}
}

// Participant drives one session's backing transaction through two-phase
// commit. It is owned by the goroutine driving its transaction.
type Participant struct {
	id         string
	sess       *session.Session
	tx         *session.Tx
	savepoints bool
	state      State
	steps      step
	committed  bool
	hazard     bool
	inDoubt    string

	awareness *Awareness
	txn       *tpc.Transaction
	logger    *log.Logger
	metrics   *participantMetrics
}

var _ tpc.SavepointResource = (*Participant)(nil)

// NewParticipant opens the backing transaction on sess. The session must not
// have one open already.
func NewParticipant(ctx context.Context, sess *session.Session, opts ...Option) (*Participant, error) {
	if sess.Tx() != nil {
		return nil, ErrSessionInUse
	}
	o := buildOptions(opts)
	tx, err := sess.Begin(ctx)
	if err != nil {
		if errors.Is(err, session.ErrTxActive) {
			return nil, ErrSessionInUse
		}
		return nil, &BackingStoreError{Op: "begin", Err: err}
	}
	id := uuid.NewString()
	return &Participant{
		id:         id,
		sess:       sess,
		tx:         tx,
		savepoints: sess.SupportsSavepoints(),
		state:      StateInit,
		logger:     o.logger.With("participant", id, "xid", tx.XID),
		metrics:    o.metrics,
	}, nil
}

// ID returns the participant id used in its sort key.
func (p *Participant) ID() string { return p.id }

// State returns the current state.
func (p *Participant) State() State { return p.state }

// Session returns the joined session, or nil once the participant let go
// of it.
func (p *Participant) Session() *session.Session { return p.sess }

// XID returns the global id of the backing transaction.
func (p *Participant) XID() string { return p.tx.XID }

// TwoPhase reports whether the backing transaction is prepared on vote.
func (p *Participant) TwoPhase() bool { return p.tx.TwoPhase }

// InDoubt returns the xid left prepared by a failed TPCFinish, if any.
func (p *Participant) InDoubt() (string, bool) { return p.inDoubt, p.inDoubt != "" }

// SortKey orders the participant after unrelated resources. Only a foreign
// key that itself starts with "\xff\xff" can sort later.
func (p *Participant) SortKey() string { return sortKeyPrefix + p.id }

func (p *Participant) enter(s step) error {
	if p.state == StateAborted || p.steps&stepFinish != 0 {
		return fmt.Errorf("%w: %s in state %s", ErrParticipantClosed, s, p.state)
	}
	if p.steps&s != 0 {
		return fmt.Errorf("%w: %s called twice", ErrProtocolOrder, s)
	}
	var need step
	switch s {
	case stepCommit:
		need = stepBegin
		if p.steps&stepVote != 0 {
			return fmt.Errorf("%w: commit after tpc_vote", ErrProtocolOrder)
		}
	case stepVote:
		need = stepBegin
	case stepFinish:
		need = stepVote
	}
	if p.steps&need != need {
		return fmt.Errorf("%w: %s before %s", ErrProtocolOrder, s, need)
	}
	p.steps |= s
	return nil
}

// release hands the session back and tells the awareness the scope is free.
func (p *Participant) release(ctx context.Context) error {
	var err error
	if p.sess != nil {
		err = p.sess.Close(ctx)
		p.sess = nil
	}
	if p.awareness != nil {
		p.awareness.deactivate(p.txn, p)
	}
	return err
}

// Abort rolls back whatever is still open and releases the session. Calling
// it again, or after the participant finished, does nothing.
func (p *Participant) Abort(ctx context.Context, _ *tpc.Transaction) error {
	if p.sess == nil {
		return nil
	}
	var errs []error
	if err := p.sess.Rollback(ctx); err != nil {
		errs = append(errs, &BackingStoreError{Op: "rollback", Err: err})
	}
	if err := p.release(ctx); err != nil {
		errs = append(errs, err)
	}
	p.state = StateAborted
	p.metrics.record(ctx, OutcomeAborted)
	p.logger.Debug("aborted")
	return errors.Join(errs...)
}

// TPCBegin flushes queued writes so that write failures fail the vote.
func (p *Participant) TPCBegin(ctx context.Context, _ *tpc.Transaction) error {
	if err := p.enter(stepBegin); err != nil {
		return err
	}
	if err := p.sess.Flush(ctx); err != nil {
		return &BackingStoreError{Op: "flush", Err: err}
	}
	return nil
}

// Commit skips the vote for one-phase units of work that wrote nothing: the
// empty transaction is rolled back and the participant is finished.
func (p *Participant) Commit(ctx context.Context, _ *tpc.Transaction) error {
	if err := p.enter(stepCommit); err != nil {
		return err
	}
	if p.tx.TwoPhase || p.sess.IsDirty() {
		return nil
	}
	var errs []error
	if err := p.sess.Rollback(ctx); err != nil {
		errs = append(errs, &BackingStoreError{Op: "rollback", Err: err})
	}
	if err := p.release(ctx); err != nil {
		errs = append(errs, err)
	}
	p.state = StateFinished
	p.metrics.record(ctx, OutcomeElided)
	p.logger.Debug("no writes, commit elided")
	return errors.Join(errs...)
}

// TPCVote prepares a two-phase transaction, or commits a one-phase one.
func (p *Participant) TPCVote(ctx context.Context, _ *tpc.Transaction) error {
	if err := p.enter(stepVote); err != nil {
		return err
	}
	if p.sess == nil {
		return nil
	}
	if p.tx.TwoPhase {
		if err := p.sess.Prepare(ctx); err != nil {
			return &BackingStoreError{Op: "prepare", Err: err}
		}
		p.state = StateVoted
		p.metrics.record(ctx, OutcomePrepared)
		p.logger.Debug("prepared")
		return nil
	}
	if err := p.sess.Commit(ctx); err != nil {
		return &BackingStoreError{Op: "commit", Err: err}
	}
	p.committed = true
	p.state = StateFinished
	p.metrics.record(ctx, OutcomeCommitted)
	p.logger.Debug("committed on vote")
	return p.release(ctx)
}

// TPCFinish commits the prepared transaction. A failure is not retried: the
// session is released, the transaction stays prepared on the server and an
// *InDoubtError carrying its xid is returned.
func (p *Participant) TPCFinish(ctx context.Context, _ *tpc.Transaction) error {
	if err := p.enter(stepFinish); err != nil {
		return err
	}
	if p.sess == nil {
		return nil
	}
	if err := p.sess.Commit(ctx); err != nil {
		p.inDoubt = p.tx.XID
		p.metrics.record(ctx, OutcomeInDoubt)
		p.logger.Error("commit of prepared transaction failed, left in doubt", "err", err)
		if cerr := p.release(ctx); cerr != nil {
			p.logger.Warn("release after failed finish", "err", cerr)
		}
		return &InDoubtError{XID: p.tx.XID, Err: err}
	}
	p.committed = true
	p.state = StateFinished
	p.metrics.record(ctx, OutcomeCommitted)
	p.logger.Debug("committed")
	return p.release(ctx)
}

// TPCAbort abandons the commit. It aborts whatever is still open and is a
// no-op once the session was released. If this participant already
// committed on vote the change cannot be undone; that is logged.
func (p *Participant) TPCAbort(ctx context.Context, txn *tpc.Transaction) error {
	if p.sess != nil {
		return p.Abort(ctx, txn)
	}
	if p.committed && !p.tx.TwoPhase && !p.hazard {
		p.hazard = true
		p.metrics.record(ctx, OutcomeHeuristicHazard)
		p.logger.Warn("tpc_abort after one-phase commit; changes already durable")
	}
	return nil
}

// Savepoints returns the savepoint bridge, or ErrSavepointsUnsupported when
// the backing store cannot nest transactions.
func (p *Participant) Savepoints() (*SavepointBridge, error) {
	if !p.savepoints {
		return nil, ErrSavepointsUnsupported
	}
	return &SavepointBridge{p: p}, nil
}

// SupportsSavepoints reports whether the backing store can nest
// transactions.
func (p *Participant) SupportsSavepoints() bool { return p.savepoints }

// Savepoint takes a savepoint for the coordinator.
func (p *Participant) Savepoint(ctx context.Context) (tpc.ResourceSavepoint, error) {
	b, err := p.Savepoints()
	if err != nil {
		return nil, err
	}
	sp, err := b.Create(ctx)
	if err != nil {
		return nil, err
	}
	return sp, nil
}
