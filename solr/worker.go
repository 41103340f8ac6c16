package solr

// bgWorker runs a single in-flight request concurrently with the caller.
// The invariants are: at most one outstanding request at any time, Submit
// awaits the previous request before starting a new one, and a failed
// request surfaces on the next Submit or Await so that the driver aborts.
//
// The worker is used from the single driver goroutine only; it needs no
// locking of its own.
type bgWorker struct {
	post     func(body []byte) error
	inflight chan error
}

func newBGWorker(post func(body []byte) error) *bgWorker {
	return &bgWorker{post: post}
}

// Submit waits for the previous request, then starts the new one in the
// background. A failure of the previous request is returned and the new
// payload is not sent.
func (w *bgWorker) Submit(body []byte) error {
	if err := w.Await(); err != nil {
		return err
	}
	result := make(chan error, 1)
	w.inflight = result
	go func() {
		result <- w.post(body)
	}()
	return nil
}

// Await blocks until the in-flight request, if any, has finished and
// returns its result.
func (w *bgWorker) Await() error {
	if w.inflight == nil {
		return nil
	}
	err := <-w.inflight
	w.inflight = nil
	return err
}
