package sessionstore

import "time"

// reduce is the pure, total reducer: reduce(s, a) == reduce(s, a) for all
// (s, a) — it reads only its arguments and a monotonic clock value supplied
// by the caller, so repeated calls with identical inputs and identical
// "now" produce identical output.
func reduce(s Session, a Action, now time.Time) Session {
	out := s
	out.Metadata.UpdatedAt = now

	switch act := a.(type) {
	case AuthRequestAction:
		out.Auth = AuthState{Status: AuthPending, Method: act.Method, Username: act.Username, Timestamp: now}

	case AuthSuccessAction:
		out.Auth = AuthState{Status: AuthAuthenticated, Method: act.Method, Username: act.Username, Timestamp: now}

	case AuthFailureAction:
		out.Auth = AuthState{Status: AuthFailed, Method: act.Method, Username: act.Username, Error: act.Error, Timestamp: now}

	case LogoutAction:
		// The source's AuthState.status omits a terminal "logged-out" state;
		// the reducer collapses logout into pending so a session can
		// re-authenticate without being recreated.
		out.Auth = AuthState{Status: AuthPending, Timestamp: now}
		out.Connection = ConnectionState{Status: ConnDisconnected, LastActivity: now}

	case ClearErrorAction:
		a := out.Auth
		a.Error = ""
		out.Auth = a
		c := out.Connection
		c.Error = ""
		out.Connection = c

	case ConnectionStartAction:
		out.Connection = ConnectionState{Status: ConnConnecting, Host: act.Host, Port: act.Port, LastActivity: now}

	case ConnectionEstablishedAction:
		out.Connection = ConnectionState{
			Status: ConnConnected, ConnectionID: act.ConnectionID,
			Host: act.Host, Port: act.Port, LastActivity: now,
		}

	case ConnectionErrorAction:
		c := out.Connection
		c.Status = ConnError
		c.Error = act.Error
		c.LastActivity = now
		out.Connection = c

	case ConnectionClosedAction:
		out.Connection = ConnectionState{Status: ConnClosed, LastActivity: now}

	case ConnectionActivityAction:
		c := out.Connection
		c.LastActivity = now
		out.Connection = c

	case TerminalResizeAction:
		rows, cols := act.Rows, act.Cols
		if rows < MinRows {
			rows = MinRows
		} else if rows > MaxRows {
			rows = MaxRows
		}
		if cols < MinCols {
			cols = MinCols
		} else if cols > MaxCols {
			cols = MaxCols
		}
		t := out.Terminal
		t.Rows, t.Cols = rows, cols
		out.Terminal = t

	case SetTermAction:
		t := out.Terminal
		t.Term = act.Term
		out.Terminal = t

	case SetEnvAction:
		t := out.Terminal
		t.Env = cloneEnv(act.Env)
		out.Terminal = t

	case SetCwdAction:
		t := out.Terminal
		t.Cwd = act.Cwd
		out.Terminal = t

	case MetadataUpdateAction:
		m := out.Metadata
		if act.ClientIP != nil {
			m.ClientIP = *act.ClientIP
		}
		if act.UserAgent != nil {
			m.UserAgent = *act.UserAgent
		}
		if act.UserID != nil {
			m.UserID = *act.UserID
		}
		out.Metadata = m

	case SessionResetAction:
		out = Session{
			ID:       s.ID,
			Metadata: Metadata{CreatedAt: s.Metadata.CreatedAt, UpdatedAt: now},
		}

	case SessionEndAction:
		// Terminal action: the store removes the session entirely on
		// SessionEndAction (see Store.Dispatch); the reducer's own result
		// for this case is never observed but must still be total.
		out = s
	}

	return out
}
