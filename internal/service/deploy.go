package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"botcloud/internal/db"
	"botcloud/internal/hub"
	"botcloud/internal/keeper"
	"botcloud/internal/logger"
	"botcloud/internal/models"
	"botcloud/internal/stager"

	"github.com/im7mortal/kmutex"
	"github.com/sirupsen/logrus"
)

// BotStore is the part of the durable store the orchestrator needs.
type BotStore interface {
	SaveSource(ctx context.Context, botID string, kind models.SourceKind, url string) error
	GetBot(ctx context.Context, botID string) (*db.Bot, error)
	DeleteBot(ctx context.Context, botID string) error
}

// Options carries the launch defaults.
type Options struct {
	InstallCmd []string
	RunCmd     []string
	BaseEnv    []string // nil means os.Environ()
	FetchLimit int
}

// Status is the derived view of one bot.
type Status struct {
	BotID     string                `json:"botId"`
	State     models.LifecycleState `json:"state"`
	PID       int                   `json:"pid,omitempty"`
	StartedAt *time.Time            `json:"startedAt,omitempty"`
	ExpiresAt *time.Time            `json:"expiresAt,omitempty"`
}

// Deployment tracks the asynchronous launch phase of a deploy or restart.
type Deployment struct {
	Identity string

	done chan struct{}
	err  error
}

func newDeployment(identity string) *Deployment {
	return &Deployment{Identity: identity, done: make(chan struct{})}
}

func (d *Deployment) finish(err error) {
	d.err = err
	close(d.done)
}

// Done is closed when the launch phase has finished.
func (d *Deployment) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the launch phase finishes and returns its result:
// nil once the bot is online, otherwise an install or launch error.
func (d *Deployment) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orchestrator serializes deploy, restart, stop and delete per identity and
// drives the stager and supervisor.
type Orchestrator struct {
	stager     *stager.Stager
	supervisor *keeper.Supervisor
	hub        *hub.Hub
	store      BotStore
	opts       Options

	locks *kmutex.Kmutex
	log   *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	deploying map[string]int
	closed    bool
}

func NewOrchestrator(st *stager.Stager, sv *keeper.Supervisor, h *hub.Hub, store BotStore, opts Options) *Orchestrator {
	if opts.BaseEnv == nil {
		opts.BaseEnv = os.Environ()
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 500
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		stager:     st,
		supervisor: sv,
		hub:        h,
		store:      store,
		opts:       opts,
		locks:      kmutex.New(),
		log:        logger.For("orchestrator"),
		ctx:        ctx,
		cancel:     cancel,
		deploying:  make(map[string]int),
	}
	sv.OnExit(o.onExit)
	return o
}

// lock acquires the identity's single-flight lock and returns an idempotent
// release func. Callers queue; nothing is dropped.
func (o *Orchestrator) lock(identity string) (func(), error) {
	o.locks.Lock(identity)
	var once sync.Once
	unlock := func() { once.Do(func() { o.locks.Unlock(identity) }) }

	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		unlock()
		return nil, ErrClosed
	}
	return unlock, nil
}

func (o *Orchestrator) beginDeploy(identity string) {
	o.mu.Lock()
	o.deploying[identity]++
	o.mu.Unlock()
}

func (o *Orchestrator) endDeploy(identity string) {
	o.mu.Lock()
	if o.deploying[identity] <= 1 {
		delete(o.deploying, identity)
	} else {
		o.deploying[identity]--
	}
	o.mu.Unlock()
}

func (o *Orchestrator) isDeploying(identity string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deploying[identity] > 0
}

// RequestDeploy replaces whatever runs under identity with a fresh build of
// src. Staging happens before it returns; install and launch continue in the
// background and are reported through the returned Deployment.
func (o *Orchestrator) RequestDeploy(ctx context.Context, identity string, src models.DeploymentSource) (*Deployment, error) {
	if !models.ValidIdentity(identity) {
		return nil, ErrInvalidIdentity
	}
	if err := o.stager.Validate(src); err != nil {
		return nil, err
	}

	unlock, err := o.lock(identity)
	if err != nil {
		return nil, err
	}
	o.beginDeploy(identity)

	o.supervisor.Stop(identity)

	dir, err := o.stager.Stage(ctx, identity, src)
	if err != nil {
		o.publishStageError(identity, src.Kind, err)
		o.endDeploy(identity)
		unlock()
		return nil, err
	}

	if err := o.store.SaveSource(ctx, identity, src.Kind, src.URL); err != nil {
		o.log.WithField("bot", identity).WithError(err).Warn("failed to record deployment source")
	}

	return o.launchAsync(identity, dir, unlock), nil
}

// RequestRestart stops and relaunches the staged artifact. With update set
// and a recorded VCS source, the artifact is pulled first.
func (o *Orchestrator) RequestRestart(ctx context.Context, identity string, update bool) (*Deployment, error) {
	if !models.ValidIdentity(identity) {
		return nil, ErrInvalidIdentity
	}
	if !o.stager.Exists(identity) {
		return nil, ErrArtifactMissing
	}

	unlock, err := o.lock(identity)
	if err != nil {
		return nil, err
	}
	// deleted while we queued
	if !o.stager.Exists(identity) {
		unlock()
		return nil, ErrArtifactMissing
	}
	o.beginDeploy(identity)

	o.supervisor.Stop(identity)
	o.hub.Publish(identity, models.SeveritySystem, "User initiated manual restart.")

	dir := o.stager.Dir(identity)
	if update {
		if err := o.refresh(ctx, identity); err != nil {
			o.endDeploy(identity)
			unlock()
			return nil, err
		}
	}

	return o.launchAsync(identity, dir, unlock), nil
}

// refresh re-stages from the recorded VCS source. Archive deployments have
// nothing to pull and are left as they are.
func (o *Orchestrator) refresh(ctx context.Context, identity string) error {
	bot, err := o.store.GetBot(ctx, identity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if bot == nil || bot.SourceKind != models.SourceVCS || bot.SourceURL == "" {
		o.hub.Publish(identity, models.SeveritySystem, "No repository recorded for this bot. Restarting current files.")
		return nil
	}
	if _, err := o.stager.Stage(ctx, identity, models.VCSSource(bot.SourceURL)); err != nil {
		o.publishStageError(identity, models.SourceVCS, err)
		return err
	}
	return nil
}

// launchAsync runs the launch phase in the background. unlock is released
// when the phase ends.
func (o *Orchestrator) launchAsync(identity, dir string, unlock func()) *Deployment {
	d := newDeployment(identity)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		err := o.launch(identity, dir)
		o.endDeploy(identity)
		unlock()
		d.finish(err)
	}()
	return d
}

func (o *Orchestrator) launch(identity, dir string) error {
	m, err := LoadManifest(dir)
	if err != nil {
		o.hub.Publish(identity, models.SeverityError, "Startup error: "+err.Error())
		return fmt.Errorf("%w: %v", ErrProcessLaunchFailed, err)
	}
	install, run := resolveManifest(m, o.opts)

	h, err := o.supervisor.Start(o.ctx, keeper.StartSpec{
		Identity: identity,
		Dir:      dir,
		Install:  install,
		Run:      run,
		Env:      botEnv(o.opts.BaseEnv, identity, m),
	})
	if err != nil {
		o.hub.Publish(identity, models.SeverityError, "Startup error: "+err.Error())
		o.log.WithField("bot", identity).WithError(err).Warn("launch failed")
		return err
	}

	o.hub.Publish(identity, models.SeveritySuccess, fmt.Sprintf("Instance assigned PID %d", h.PID))
	o.hub.Publish(identity, models.SeveritySuccess, "Bot is online.")
	return nil
}

func (o *Orchestrator) publishStageError(identity string, kind models.SourceKind, err error) {
	prefix := "Repository sync failed"
	if kind == models.SourceArchive {
		prefix = "Extraction failed"
	}
	o.hub.Publish(identity, models.SeverityError, fmt.Sprintf("%s: %v", prefix, err))
}

// RequestStop stops identity's process. The staged artifact is kept. It
// reports whether anything was running.
func (o *Orchestrator) RequestStop(ctx context.Context, identity string) bool {
	unlock, err := o.lock(identity)
	if err != nil {
		return false
	}
	defer unlock()
	return o.supervisor.Stop(identity)
}

// RequestDelete stops identity and removes its artifact, record and logs.
func (o *Orchestrator) RequestDelete(ctx context.Context, identity string) error {
	if !models.ValidIdentity(identity) {
		return ErrInvalidIdentity
	}
	unlock, err := o.lock(identity)
	if err != nil {
		return err
	}
	defer unlock()

	o.supervisor.Stop(identity)
	if err := o.stager.Remove(identity); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := o.store.DeleteBot(ctx, identity); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	o.log.WithField("bot", identity).Info("bot deleted")
	return nil
}

// FetchHistory returns the most recent lines of identity, oldest first.
func (o *Orchestrator) FetchHistory(ctx context.Context, identity string, limit int) ([]models.LogLine, error) {
	if limit <= 0 {
		limit = o.opts.FetchLimit
	}
	return o.hub.History(ctx, identity, limit)
}

// State derives identity's lifecycle state. Only EXPIRED is stored, and an
// in-flight deploy or restart takes precedence over it.
func (o *Orchestrator) State(ctx context.Context, identity string) (Status, error) {
	st := Status{BotID: identity, State: models.StateStopped}

	bot, err := o.store.GetBot(ctx, identity)
	if err != nil {
		return st, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if bot != nil {
		st.ExpiresAt = bot.ExpiresAt
	}

	h := o.supervisor.Handle(identity)
	if h != nil {
		started := h.StartedAt
		st.PID = h.PID
		st.StartedAt = &started
	}

	switch {
	case o.isDeploying(identity):
		st.State = models.StateDeploying
	case h == nil && bot != nil && bot.Expired:
		st.State = models.StateExpired
	case h != nil && o.supervisor.Stopping(identity):
		st.State = models.StateStopping
	case h != nil:
		st.State = models.StateRunning
	}
	return st, nil
}

// Running lists the live processes.
func (o *Orchestrator) Running() []*keeper.Handle {
	return o.supervisor.Running()
}

func (o *Orchestrator) onExit(ev keeper.ExitEvent) {
	if ev.Stopped {
		return
	}
	// no auto-restart, the exit line is already in the bot's log
	o.log.WithFields(logrus.Fields{"bot": ev.Identity, "pid": ev.PID, "code": ev.ExitCode}).
		Warn("bot exited on its own")
}

// Close rejects new requests, aborts in-flight installs and waits for the
// launch goroutines.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}
