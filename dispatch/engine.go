// Package dispatch delivers due scheduled messages to their workspaces.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultBatchSize    = 100
	DefaultCallTimeout  = 15 * time.Second
	DefaultBatchTimeout = 5 * time.Minute
)

// Protocol is the part of the workspace client the engine needs.
type Protocol interface {
	Login(ctx context.Context, username, password string) (rocketchat.Session, error)
	PostMessage(ctx context.Context, s rocketchat.Session, channel, text string) (*rocketchat.PostedMessage, error)
}

// ProtocolFactory returns a client bound to one workspace base url.
type ProtocolFactory func(baseURL string) Protocol

// Decrypter opens stored credential blobs. *vault.Vault satisfies it.
type Decrypter interface {
	Decrypt(blob string) (string, error)
}

type StatusChange struct {
	MessageUUID string                 `json:"message_uuid"`
	UserID      uint                   `json:"-"`
	Status      database.MessageStatus `json:"status"`
	Error       *string                `json:"error,omitempty"`
	At          time.Time              `json:"at"`
}

// StatusNotifier is told about every committed status change.
type StatusNotifier interface {
	MessageStatusChanged(change StatusChange)
}

// Result summarises one tick.
type Result struct {
	Attempted  int       `json:"attempted"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Cancelled  int       `json:"cancelled"`
	Skipped    int       `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type Engine struct {
	db           *gorm.DB
	vault        Decrypter
	newProtocol  ProtocolFactory
	now          func() time.Time
	batchSize    int
	callTimeout  time.Duration
	batchTimeout time.Duration
	notifier     StatusNotifier
	logger       *zap.Logger
}

type Option func(*Engine)

func WithProtocolFactory(f ProtocolFactory) Option {
	return func(e *Engine) { e.newProtocol = f }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithCallTimeout bounds every single remote call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithBatchTimeout bounds a whole tick. Messages not reached in time stay
// pending for the next tick.
func WithBatchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.batchTimeout = d
		}
	}
}

func WithNotifier(n StatusNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(db *gorm.DB, v Decrypter, opts ...Option) *Engine {
	e := &Engine{
		db:           db,
		vault:        v,
		now:          time.Now,
		batchSize:    DefaultBatchSize,
		callTimeout:  DefaultCallTimeout,
		batchTimeout: DefaultBatchTimeout,
		logger:       zap.L(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.newProtocol == nil {
		timeout := e.callTimeout
		e.newProtocol = func(baseURL string) Protocol {
			return rocketchat.NewClient(baseURL, rocketchat.WithTimeout(timeout))
		}
	}
	return e
}

// storeError marks a failure of the local store. Only these abort a tick.
type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }
func (e *storeError) Unwrap() error { return e.err }

func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	return &storeError{op: op, err: err}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
	outcomeCancelled
)

// batch holds per-tick connection state so a workspace is logged into at
// most once per tick.
type batch struct {
	conns        map[uint]*database.WorkspaceConnection
	loginFailure map[uint]error
}

// Tick delivers every due message once. Per-message failures are recorded on
// the message and never abort the tick; a store failure does, and the
// partial result is returned with the error.
func (e *Engine) Tick(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.batchTimeout)
	defer cancel()

	res := Result{StartedAt: e.now()}
	due, err := database.DueMessages(e.db.WithContext(ctx), res.StartedAt, e.batchSize)
	if err != nil {
		return e.abort(res, wrapStore("select due messages", err))
	}

	b := &batch{
		conns:        make(map[uint]*database.WorkspaceConnection),
		loginFailure: make(map[uint]error),
	}
	for i := range due {
		if ctx.Err() != nil {
			e.logger.Warn("batch budget exhausted", zap.Int("remaining", len(due)-i))
			break
		}
		out, err := e.deliver(ctx, b, &due[i])
		if err != nil {
			return e.abort(res, err)
		}
		switch out {
		case outcomeSkipped:
			res.Skipped++
			continue
		case outcomeSent:
			res.Sent++
		case outcomeFailed:
			res.Failed++
		case outcomeCancelled:
			res.Cancelled++
		}
		res.Attempted++
	}

	res.FinishedAt = e.now()
	if res.Attempted > 0 || res.Skipped > 0 {
		e.logger.Info("dispatch tick finished", res.fields()...)
	}
	return res, nil
}

func (r Result) fields() []zap.Field {
	return []zap.Field{
		zap.Int("attempted", r.Attempted),
		zap.Int("sent", r.Sent),
		zap.Int("failed", r.Failed),
		zap.Int("cancelled", r.Cancelled),
		zap.Int("skipped", r.Skipped),
		zap.Duration("took", r.FinishedAt.Sub(r.StartedAt)),
	}
}

// abort closes a tick on a store failure, keeping what was processed so far.
func (e *Engine) abort(res Result, err error) (Result, error) {
	res.FinishedAt = e.now()
	e.logger.Error("dispatch tick aborted", append(res.fields(), zap.Error(err))...)
	return res, err
}

func (e *Engine) deliver(ctx context.Context, b *batch, msg *database.ScheduledMessage) (outcome, error) {
	// Store writes must land even when the batch budget runs out mid-call.
	storeCtx := context.WithoutCancel(ctx)
	db := e.db.WithContext(storeCtx)

	claimed, err := database.ClaimMessage(db, msg.ID, e.now())
	if err != nil {
		return 0, wrapStore(fmt.Sprintf("claim message %d", msg.ID), err)
	}
	if !claimed {
		return outcomeSkipped, nil
	}

	conn, err := e.connection(db, b, msg)
	if err != nil {
		if errors.Is(err, ErrConnectionUnavailable) {
			return e.fail(db, msg, err)
		}
		return 0, err
	}
	if conn.IsArchived {
		return e.cancel(db, msg)
	}

	session, fresh, err := e.session(ctx, db, b, conn)
	if err != nil {
		return e.failOrAbort(db, msg, err)
	}

	// The connection is cached for the whole tick; an archive since then
	// must stop the send.
	archived, err := database.ConnectionArchived(db, conn.ID)
	if err != nil {
		return 0, wrapStore("check connection", err)
	}
	if archived {
		conn.IsArchived = true
		return e.cancel(db, msg)
	}

	posted, err := e.post(ctx, conn, session, msg)
	if err != nil && rocketchat.IsAuth(err) && !fresh {
		e.logger.Debug("cached session rejected, logging in again", zap.Uint("connection", conn.ID))
		session, err = e.login(ctx, db, b, conn)
		if err != nil {
			return e.failOrAbort(db, msg, err)
		}
		posted, err = e.post(ctx, conn, session, msg)
	}
	if err != nil {
		if rocketchat.IsAuth(err) {
			if clearErr := database.ClearSession(db, conn, e.now()); clearErr != nil {
				return 0, wrapStore("clear rejected session", clearErr)
			}
		}
		return e.fail(db, msg, err)
	}

	if err := database.MarkSent(db, msg.ID, posted.ID, e.now()); err != nil {
		return 0, wrapStore("mark message sent", err)
	}
	e.notify(msg, database.StatusSent, nil)
	return outcomeSent, nil
}

// connection loads the owner's own connection for msg. Dispatch never acts
// through a connection of another principal.
func (e *Engine) connection(db *gorm.DB, b *batch, msg *database.ScheduledMessage) (*database.WorkspaceConnection, error) {
	if conn, ok := b.conns[msg.ConnectionID]; ok {
		if conn.UserID != msg.UserID {
			return nil, ErrConnectionUnavailable
		}
		return conn, nil
	}
	conn, err := database.FindConnectionByID(db, msg.ConnectionID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrConnectionUnavailable
		}
		return nil, wrapStore("load connection", err)
	}
	b.conns[conn.ID] = conn
	if conn.UserID != msg.UserID {
		return nil, ErrConnectionUnavailable
	}
	return conn, nil
}

// session returns the cached session when it is present and live, otherwise
// logs in. fresh is true when the session was obtained by this call.
func (e *Engine) session(ctx context.Context, db *gorm.DB, b *batch, conn *database.WorkspaceConnection) (rocketchat.Session, bool, error) {
	if conn.HasSession() && conn.IsActive {
		token, userID := conn.SessionCredentials()
		return rocketchat.Session{Token: token, UserID: userID}, false, nil
	}
	s, err := e.login(ctx, db, b, conn)
	return s, true, err
}

func (e *Engine) login(ctx context.Context, db *gorm.DB, b *batch, conn *database.WorkspaceConnection) (rocketchat.Session, error) {
	if err, failed := b.loginFailure[conn.ID]; failed {
		return rocketchat.Session{}, err
	}

	password, err := e.vault.Decrypt(conn.EncryptedPassword)
	if err != nil {
		e.logger.Warn("stored credentials could not be decrypted", zap.Uint("connection", conn.ID))
		b.loginFailure[conn.ID] = err
		return rocketchat.Session{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	s, err := e.newProtocol(conn.BaseURL).Login(callCtx, conn.Username, password)
	cancel()
	if err != nil {
		b.loginFailure[conn.ID] = err
		e.logger.Warn("workspace login failed",
			zap.Uint("connection", conn.ID),
			zap.String("kind", rocketchat.KindOf(err).String()),
		)
		var storeErr error
		if rocketchat.IsAuth(err) {
			storeErr = database.ClearSession(db, conn, e.now())
		} else {
			storeErr = database.MarkInactive(db, conn, e.now())
		}
		if storeErr != nil {
			return rocketchat.Session{}, wrapStore("record login failure", storeErr)
		}
		return rocketchat.Session{}, err
	}

	if err := database.SaveSession(db, conn, s.Token, s.UserID, e.now()); err != nil {
		return rocketchat.Session{}, wrapStore("save session", err)
	}
	return s, nil
}

func (e *Engine) post(ctx context.Context, conn *database.WorkspaceConnection, s rocketchat.Session, msg *database.ScheduledMessage) (*rocketchat.PostedMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.newProtocol(conn.BaseURL).PostMessage(callCtx, s, msg.Target(), msg.Text)
}

func (e *Engine) cancel(db *gorm.DB, msg *database.ScheduledMessage) (outcome, error) {
	if err := database.MarkCancelled(db, msg.ID); err != nil {
		return 0, wrapStore("cancel message", err)
	}
	e.notify(msg, database.StatusCancelled, nil)
	return outcomeCancelled, nil
}

func (e *Engine) failOrAbort(db *gorm.DB, msg *database.ScheduledMessage, err error) (outcome, error) {
	var se *storeError
	if errors.As(err, &se) {
		return 0, err
	}
	return e.fail(db, msg, err)
}

func (e *Engine) fail(db *gorm.DB, msg *database.ScheduledMessage, cause error) (outcome, error) {
	kind, reason := Classify(cause)
	e.logger.Info("message delivery failed",
		zap.String("message", msg.UUID),
		zap.String("kind", string(kind)),
	)
	if err := database.MarkFailed(db, msg.ID, reason); err != nil {
		return 0, wrapStore("mark message failed", err)
	}
	e.notify(msg, database.StatusFailed, &reason)
	return outcomeFailed, nil
}

func (e *Engine) notify(msg *database.ScheduledMessage, status database.MessageStatus, reason *string) {
	if e.notifier == nil {
		return
	}
	e.notifier.MessageStatusChanged(StatusChange{
		MessageUUID: msg.UUID,
		UserID:      msg.UserID,
		Status:      status,
		Error:       reason,
		At:          e.now(),
	})
}
