// Package correlation matches asynchronous responses to the requests that
// caused them.
//
// A caller registers a correlation id with a deadline, publishes its command
// through whatever channel it likes, and waits. A delivery path that sees a
// response calls Complete with the id found in it. The request resolves
// exactly once: Matched, TimedOut or Cancelled. Unknown, duplicate and late
// responses are dropped, and no entry outlives its deadline.
//
//	reg := correlation.New[gateway.Response]()
//	p, err := reg.Register(cmd.ID, 30*time.Second)
//	if err != nil {
//	    return err
//	}
//	if err := transport.Publish(ctx, cmd); err != nil {
//	    reg.Cancel(cmd.ID)
//	    return err
//	}
//	res, err := p.Wait(ctx)
package correlation
