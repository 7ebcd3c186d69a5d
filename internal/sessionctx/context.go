// Package sessionctx は対話的なUI向けに、セッションのリアクティブな
// ミラーを提供する。起動時に一度だけサーバー側からセッションを読み込み、
// 以降はログイン・ログアウト・トークン更新の結果でのみ状態を更新する。
//
// 画面内遷移はEdgeGuardを通らないため、パスまたは認証状態が変わるたびに
// route.Decide で同じ判定を行い、必要ならNavigatorで遷移させる。
package sessionctx

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/route"
	"github.com/hitoshi/taskdeck/internal/validation"
)

// State はミラーしているセッションの状態。
type State int

const (
	// Loading は起動時の読み込みが終わっていない状態。
	Loading State = iota
	// Unauthenticated はセッションがない状態。
	Unauthenticated
	// Authenticated はプロフィールをミラーしている状態。
	Authenticated
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// singleflightのキー
const (
	flightLogin   = "login"
	flightRefresh = "refresh"
)

// Snapshot はある時点の状態のコピー。
type Snapshot struct {
	State           State
	Profile         *model.Profile
	Loading         bool
	Busy            bool
	IsAuthenticated bool
}

// Context はセッションのリアクティブなミラー。
// 状態はmutexで保護し、Backendの呼び出しはロックの外で行う。
// ログインとトークン更新はそれぞれ同時に1つだけ実行され、
// 実行中に呼ばれた場合は実行中の呼び出しに合流して同じ結果を受け取る。
// 合流した呼び出しは先頭の呼び出し元のキャンセルに影響されない。
type Context struct {
	backend  Backend
	nav      Navigator
	notifier Notifier
	logger   *slog.Logger

	mu           sync.Mutex
	state        State
	profile      *model.Profile
	busy         int
	bootstrapped bool
	subscribers  map[int]chan Snapshot
	nextSubID    int

	flights singleflight.Group
}

// New はContextを生成する。状態は Loading から始まる。
func New(backend Backend, nav Navigator, notifier Notifier, logger *slog.Logger) *Context {
	return &Context{
		backend:     backend,
		nav:         nav,
		notifier:    notifier,
		logger:      logger,
		state:       Loading,
		subscribers: make(map[int]chan Snapshot),
	}
}

// Bootstrap はサーバー側からセッションを読み込み、状態を確定させる。
// 2回目以降の呼び出しは何もしない。読み込みに失敗した場合はログに記録し、
// 未認証として扱う。読み込み中にログインまたはログアウトが完了して状態が
// 確定していた場合、読み込み結果は破棄する。
func (c *Context) Bootstrap(ctx context.Context) {
	c.mu.Lock()
	if c.bootstrapped {
		c.mu.Unlock()
		return
	}
	c.bootstrapped = true
	c.mu.Unlock()

	profile, err := c.backend.CurrentSession(ctx)
	if err != nil {
		c.logger.Error("failed to load session", slog.String("error", err.Error()))
		profile = nil
	}

	c.mu.Lock()
	if state := c.state; state != Loading {
		c.mu.Unlock()
		c.logger.Debug("discarding stale session load", slog.String("state", state.String()))
		return
	}
	c.setProfileLocked(profile)
	c.mu.Unlock()

	c.publish()
	c.enforce(c.nav.CurrentPath())
}

// Snapshot は現在の状態を返す。
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe は状態が変わるたびにスナップショットを受け取るチャネルを返す。
// 登録直後に現在の状態が1つ送られる。受信側が追いつかない場合は
// 古いスナップショットを捨て、最新のものだけを残す。
// 返される関数で購読を解除する（チャネルは閉じられる）。
func (c *Context) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// PathChanged は画面内遷移の後に呼ばれ、遷移先のアクセス可否を判定する。
func (c *Context) PathChanged(path string) {
	c.enforce(path)
}

// Login はログインし、成功した場合はプロフィールをミラーしてダッシュボードへ遷移する。
// 失敗した場合は通知のみ行い、状態は変えない。成功した場合にtrueを返す。
func (c *Context) Login(ctx context.Context, input validation.LoginInput) bool {
	flightCtx := context.WithoutCancel(ctx)
	v, _, _ := c.flights.Do(flightLogin, func() (any, error) {
		done := c.beginBusy()
		defer done()

		profile, err := c.backend.Login(flightCtx, input)
		if err != nil {
			c.notifier.Failure(model.NoticeLoginFailure, model.FailureDescription(err, model.NoticeCheckCredentials))
			return false, nil
		}
		if profile == nil {
			c.notifier.Failure(model.NoticeLoginFailure, model.NoticeCheckCredentials)
			return false, nil
		}

		c.mu.Lock()
		c.setProfileLocked(profile)
		c.mu.Unlock()

		c.notifier.Success(model.NoticeLoginSuccess, model.NoticeWelcomeBack)
		c.nav.Push(route.DashboardPath)
		return true, nil
	})
	return v.(bool)
}

// Register はユーザーを登録し、成功した場合はログイン画面へ遷移する。
// セッションは作成しないため、状態は変わらない。
func (c *Context) Register(ctx context.Context, input validation.RegisterInput) bool {
	done := c.beginBusy()
	defer done()

	message, err := c.backend.Register(ctx, input)
	if err != nil {
		c.notifier.Failure(model.NoticeRegisterFailure, model.FailureDescription(err, model.NoticeTryAgain))
		return false
	}
	if message == "" {
		message = model.NoticeLoginNewAccount
	}

	c.notifier.Success(model.NoticeRegisterSuccess, message)
	c.nav.Push(route.LoginPath)
	return true
}

// Refresh はアクセストークンを更新する。成功時は通知しない。
// 失敗時は通知するが、セッションのミラーは変えない。
func (c *Context) Refresh(ctx context.Context) bool {
	flightCtx := context.WithoutCancel(ctx)
	v, _, _ := c.flights.Do(flightRefresh, func() (any, error) {
		done := c.beginBusy()
		defer done()

		if err := c.backend.Refresh(flightCtx); err != nil {
			c.logger.Warn("session refresh failed", slog.String("error", err.Error()))
			c.notifier.Failure(model.NoticeRefreshFailure, model.FailureDescription(err, model.NoticeTryAgain))
			return false, nil
		}
		return true, nil
	})
	return v.(bool)
}

// Logout はログアウトし、常に未認証状態でログイン画面へ遷移する。
// Backendの失敗はログに記録するのみで、ユーザーには通知しない。
func (c *Context) Logout(ctx context.Context) {
	done := c.beginBusy()
	defer done()

	redirect, err := c.backend.Logout(ctx)
	if err != nil {
		c.logger.Error("logout request failed", slog.String("error", err.Error()))
	}
	if redirect == "" {
		redirect = route.LoginPath
	}

	c.mu.Lock()
	c.setProfileLocked(nil)
	c.mu.Unlock()

	c.notifier.Success(model.NoticeLoggedOut, model.NoticeLoggedOutDetail)
	c.nav.Push(redirect)
}

// setProfileLocked はミラーを更新する。c.mu を保持して呼ぶこと。
func (c *Context) setProfileLocked(profile *model.Profile) {
	if profile == nil {
		c.profile = nil
		c.state = Unauthenticated
		return
	}
	p := *profile
	c.profile = &p
	c.state = Authenticated
}

// beginBusy はbusyフラグを立て、解除する関数を返す。
// 解除時には状態の変化を購読者へ通知し、ルーティングを再評価する。
func (c *Context) beginBusy() func() {
	c.mu.Lock()
	c.busy++
	c.mu.Unlock()
	c.publish()

	return func() {
		c.mu.Lock()
		c.busy--
		c.mu.Unlock()
		c.publish()
		c.enforce(c.nav.CurrentPath())
	}
}

// enforce はパスと現在の認証状態から遷移の要否を判定する。
// 読み込み中と判定対象外のパスでは何もしない。
func (c *Context) enforce(path string) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == Loading || route.Excluded(path) {
		return
	}

	decision := route.Decide(path, state == Authenticated)
	if !decision.Allow {
		c.nav.Push(decision.RedirectTo)
	}
}

// publish は現在のスナップショットを全ての購読者へ送る。
func (c *Context) publish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snapshotLocked()
	for _, ch := range c.subscribers {
		// 未読のスナップショットがあれば捨てて最新のものに置き換える
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (c *Context) snapshotLocked() Snapshot {
	var profile *model.Profile
	if c.profile != nil {
		p := *c.profile
		profile = &p
	}
	return Snapshot{
		State:           c.state,
		Profile:         profile,
		Loading:         c.state == Loading,
		Busy:            c.busy > 0,
		IsAuthenticated: profile != nil,
	}
}
