package session

import (
	"sync"

	"github.com/jrsteele09/smartstudy-sync/apimodel"
)

type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	}
	return "unauthenticated"
}

// AppContext is the application state owned by the Controller: the session
// state, the signed in user and the collection data being rendered.
type AppContext struct {
	mu    sync.RWMutex
	state State
	user  *apimodel.User
	data  apimodel.Collections
}

func NewAppContext() *AppContext {
	return &AppContext{data: apimodel.EmptyCollections()}
}

// AppView is a read-only copy of AppContext handed to consumers.
type AppView struct {
	State State
	User  *apimodel.User
	Data  apimodel.Collections
}

// View returns a copy that is safe to keep after the context changes.
func (a *AppContext) View() AppView {
	a.mu.RLock()
	defer a.mu.RUnlock()

	view := AppView{State: a.state, Data: a.data.Clone()}
	if a.user != nil {
		u := *a.user
		view.User = &u
	}
	return view
}

func (a *AppContext) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// User returns a copy of the current user, nil when signed out.
func (a *AppContext) User() *apimodel.User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.user == nil {
		return nil
	}
	u := *a.user
	return &u
}

// SetData replaces the collection data. Nil arrays become empty ones.
func (a *AppContext) SetData(data apimodel.Collections) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data = data.Normalized()
}

func (a *AppContext) setState(state State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = state
}

func (a *AppContext) signIn(user apimodel.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = Authenticated
	a.user = &user
}

func (a *AppContext) signOut() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = Unauthenticated
	a.user = nil
	a.data = apimodel.EmptyCollections()
}

// Renderer is the presentation layer. Render is called with a fresh view
// whenever the data changes.
type Renderer interface {
	Render(view AppView)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(view AppView)

func (f RendererFunc) Render(view AppView) {
	f(view)
}

// NopRenderer discards every view.
type NopRenderer struct{}

func (NopRenderer) Render(AppView) {}
