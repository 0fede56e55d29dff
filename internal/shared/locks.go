package shared

// PasswordChangeLockKey builds the redis key marking a password change in flight for a session.
func PasswordChangeLockKey(sessionID string) string {
	return "account:password:" + sessionID + ":inflight"
}
