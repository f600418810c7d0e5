package auth

// Observer is notified of authority outcomes, e.g. to export metrics. Calls are
// made outside the session table lock.
type Observer interface {
	LoginBegun(ok bool)
	LoginFinished(ok bool)
	LoginCancelled(removed bool)
	LoggedOut(removed bool)
	SessionChecked(authenticated bool)
	SessionsExpired(n int)
}

type nopObserver struct{}

func (nopObserver) LoginBegun(bool)     {}
func (nopObserver) LoginFinished(bool)  {}
func (nopObserver) LoginCancelled(bool) {}
func (nopObserver) LoggedOut(bool)      {}
func (nopObserver) SessionChecked(bool) {}
func (nopObserver) SessionsExpired(int) {}
