package pybind

// CheckSignals polls the runtime for a waiting cooperative interrupt. Long
// native loops call this between iterations and return the error unchanged;
// the dispatcher then raises it as KeyboardInterrupt.
func CheckSignals(rt Runtime) error {
	if rt.PendingInterrupt() {
		return &RaisedError{Class: ErrInterrupt, Msg: "interrupted"}
	}
	return nil
}
