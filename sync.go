package go_xmppgate

import (
	"context"
	"fmt"
	"sync"

	"mellium.im/xmpp/jid"
)

// The helpers in this file block on the asynchronous API. They are suitable
// for simple applications, tests and command line tools; programs juggling
// many exchanges should use the callback API directly.
//
// Each helper returns an error wrapping ErrTimeout when ctx expires first,
// after cancelling the pending request so a late response is ignored.

// progressQueue buffers discovery progress between the client's callback
// goroutines and a consumer, so callbacks never block on a slow reader.
type progressQueue struct {
	mu     sync.Mutex
	items  []DiscoProgress
	notify chan struct{}
}

func newProgressQueue() *progressQueue {
	return &progressQueue{notify: make(chan struct{}, 1)}
}

func (q *progressQueue) push(p DiscoProgress) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *progressQueue) drain() []DiscoProgress {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// forward delivers queued progress on out until the final value has been
// delivered or ctx expires, then closes out. On expiry the session is
// destroyed.
func (q *progressQueue) forward(ctx context.Context, s *DiscoSession, out chan<- DiscoProgress) {
	defer close(out)
	for {
		select {
		case <-q.notify:
		case <-ctx.Done():
			s.Destroy()
			return
		}
		for _, p := range q.drain() {
			select {
			case out <- p:
			case <-ctx.Done():
				s.Destroy()
				return
			}
			if p.LastItem {
				return
			}
		}
	}
}

// Crawl starts a full crawl of target and streams its progress. The channel
// is closed after the value with LastItem set, or when ctx expires, in which
// case the session is destroyed. Crawl fails with ErrRequestPending if a
// discovery of target is already running, since its progress would go to
// the original caller.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	progress, err := client.Crawl(ctx, server)
//	if err != nil {
//	    log.Fatalf("crawl: %v", err)
//	}
//	for p := range progress {
//	    if p.Item != nil && p.Item.Info().HasFeature(NS_REGISTER) {
//	        fmt.Println("gateway:", p.Item.JID())
//	    }
//	}
func (c *Client) Crawl(ctx context.Context, target jid.JID) (<-chan DiscoProgress, error) {
	q := newProgressQueue()
	s, created, err := c.requestItems(target, q.push)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, NewRequestError(jidKey(target), "crawl", ErrRequestPending)
	}

	out := make(chan DiscoProgress)
	go q.forward(ctx, s, out)
	return out, nil
}

// RequestItemsSync crawls target and returns every progress value, the last
// of which has LastItem set. Items stay readable after the session is gone.
func (c *Client) RequestItemsSync(ctx context.Context, target jid.JID) ([]DiscoProgress, error) {
	progress, err := c.Crawl(ctx, target)
	if err != nil {
		return nil, err
	}

	var out []DiscoProgress
	for p := range progress {
		out = append(out, p)
	}
	if len(out) == 0 || !out[len(out)-1].LastItem {
		return out, fmt.Errorf("crawl of %s: %w: %v", target, ErrTimeout, ctx.Err())
	}
	return out, nil
}

// RequestInfoSync requests the identities and features of target and waits
// for them. The single-item session is destroyed before returning. A disco
// timeout is reported as ErrTimeout.
func (c *Client) RequestInfoSync(ctx context.Context, target jid.JID) (*DiscoInfo, error) {
	done := make(chan DiscoProgress, 1)
	s, created, err := c.requestInfo(target, func(p DiscoProgress) {
		done <- p
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, NewRequestError(jidKey(target), "request info", ErrRequestPending)
	}
	defer s.Destroy()

	select {
	case p := <-done:
		switch {
		case p.TimedOut:
			return nil, fmt.Errorf("info from %s: %w", target, ErrTimeout)
		case p.Err != nil:
			return nil, p.Err
		case p.Item == nil:
			return nil, fmt.Errorf("info from %s: %w", target, ErrSessionDestroyed)
		}
		return p.Item.Info(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("info from %s: %w: %v", target, ErrTimeout, ctx.Err())
	}
}

// QueryRequirementsSync asks target for its registration form and waits for it.
func (c *Client) QueryRequirementsSync(ctx context.Context, target jid.JID) (*Requirements, error) {
	type result struct {
		req *Requirements
		err error
	}
	done := make(chan result, 1)
	err := c.QueryRequirements(target, func(_ jid.JID, req *Requirements, err error) {
		done <- result{req, err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-done:
		return r.req, r.err
	case <-ctx.Done():
		c.CancelRequirements(target)
		return nil, fmt.Errorf("requirements of %s: %w: %v", target, ErrTimeout, ctx.Err())
	}
}

// RegisterSync registers with target and waits for the outcome.
func (c *Client) RegisterSync(ctx context.Context, target jid.JID, fields RegistrationFields) error {
	done := make(chan error, 1)
	if err := c.Register(target, fields, func(_ jid.JID, err error) {
		done <- err
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.CancelRegister(target)
		return fmt.Errorf("register with %s: %w: %v", target, ErrTimeout, ctx.Err())
	}
}

// UnregisterSync unregisters from target and waits for both stages.
func (c *Client) UnregisterSync(ctx context.Context, target jid.JID) error {
	done := make(chan error, 1)
	if err := c.Unregister(target, func(_ jid.JID, err error) {
		done <- err
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.CancelUnregister(target)
		return fmt.Errorf("unregister from %s: %w: %v", target, ErrTimeout, ctx.Err())
	}
}
