package sessionstore

// Action is the closed set of mutations the reducer accepts. The interface
// is sealed (unexported marker method) so no package outside sessionstore
// can introduce a new action kind; the reducer can therefore be a total
// function over a type switch without a default "unknown action" branch
// needing anything but a rejection.
type Action interface {
	isAction()
}

type AuthRequestAction struct{ Method, Username string }
type AuthSuccessAction struct{ Method, Username string }
type AuthFailureAction struct{ Method, Username, Error string }
type LogoutAction struct{}
type ClearErrorAction struct{}

type ConnectionStartAction struct{ Host string; Port int }
type ConnectionEstablishedAction struct{ ConnectionID, Host string; Port int }
type ConnectionErrorAction struct{ Error string }
type ConnectionClosedAction struct{}
type ConnectionActivityAction struct{}

type TerminalResizeAction struct{ Rows, Cols int }
type SetTermAction struct{ Term string }
type SetEnvAction struct{ Env map[string]string }
type SetCwdAction struct{ Cwd string }

type MetadataUpdateAction struct {
	ClientIP  *string
	UserAgent *string
	UserID    *string
}

type SessionResetAction struct{}
type SessionEndAction struct{}

func (AuthRequestAction) isAction()          {}
func (AuthSuccessAction) isAction()          {}
func (AuthFailureAction) isAction()          {}
func (LogoutAction) isAction()               {}
func (ClearErrorAction) isAction()           {}
func (ConnectionStartAction) isAction()       {}
func (ConnectionEstablishedAction) isAction() {}
func (ConnectionErrorAction) isAction()       {}
func (ConnectionClosedAction) isAction()      {}
func (ConnectionActivityAction) isAction()    {}
func (TerminalResizeAction) isAction()        {}
func (SetTermAction) isAction()               {}
func (SetEnvAction) isAction()                {}
func (SetCwdAction) isAction()                {}
func (MetadataUpdateAction) isAction()        {}
func (SessionResetAction) isAction()          {}
func (SessionEndAction) isAction()            {}
