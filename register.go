package go_xmppgate

import (
	"fmt"

	"mellium.im/xmpp/jid"
)

// Registration exchanges with a gateway have no timeout: a request stays
// pending until the gateway answers or the caller cancels it. At most one
// request of each kind is pending per target.

// Unregister removes the account registered with target. It first asks the
// gateway for its registration form, then submits a removal carrying the
// form's key (and username, if the gateway listed one). fn is called once,
// after the removal is acknowledged or as soon as either step fails.
func (c *Client) Unregister(target jid.JID, fn UnregisterFunc) error {
	if err := c.checkRegTarget(target); err != nil {
		return err
	}

	key := jidKey(target)
	iq := NewIQ(IQ_TYPE_GET, target, NewQuery(NS_REGISTER))

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return ErrClientClosed
	}
	if _, ok := c.unregisterReq[key]; ok {
		c.lock.Unlock()
		return NewRequestError(key, "unregister", ErrRequestPending)
	}
	req := &unregisterRequest{
		regRequest:    regRequest{kind: KIND_UNREGISTER, target: target, id: iq.ID, started: c.clock.Now()},
		fn:            fn,
		firstResponse: true,
	}
	req.handlerID = c.addHandlerLocked(func(iq *IQ) bool { return c.onUnregisterIQ(req, iq) })
	c.unregisterReq[key] = req
	c.updateGaugesLocked()
	c.lock.Unlock()

	c.logger.log(DEBUG, "Requesting registration form from %s to unregister", key)
	if err := c.sendIQ(iq); err != nil {
		c.dropUnregister(req)
		return NewRequestError(key, "send unregister query", err)
	}
	return nil
}

func (c *Client) onUnregisterIQ(req *unregisterRequest, iq *IQ) bool {
	key := jidKey(req.target)

	c.lock.Lock()
	if c.unregisterReq[key] != req || !matchRegResponse(&req.regRequest, iq, req.firstResponse) {
		c.lock.Unlock()
		return false
	}

	if iq.Type == IQ_TYPE_ERROR || !req.firstResponse {
		c.finishRegLocked(&req.regRequest)
		delete(c.unregisterReq, key)
		c.updateGaugesLocked()
		c.lock.Unlock()

		var err error
		if iq.Type == IQ_TYPE_ERROR {
			err = iq.Error
			c.logger.log(WARNING, "Unregistration from %s failed: %v", key, iq.Error)
		} else {
			c.logger.log(DEBUG, "Unregistered from %s", key)
		}
		c.trackLatency(req.kind, req.started)
		if req.fn != nil {
			req.fn(req.target, err)
		}
		return true
	}

	q := NewQuery(NS_REGISTER)
	q.Key = strPtr(strValue(iq.Query.Key))
	if iq.Query.Username != nil {
		q.Username = strPtr(*iq.Query.Username)
	}
	q.Remove = &Marker{}
	set := NewIQ(IQ_TYPE_SET, req.target, q)
	req.id = set.ID
	req.firstResponse = false
	c.lock.Unlock()

	c.logger.log(DEBUG, "Sending registration removal to %s", key)
	if err := c.sendIQ(set); err != nil {
		if c.dropUnregister(req) && req.fn != nil {
			req.fn(req.target, NewRequestError(key, "send unregister removal", err))
		}
	}
	return true
}

// dropUnregister removes req if it is still the pending entry for its target.
func (c *Client) dropUnregister(req *unregisterRequest) bool {
	key := jidKey(req.target)
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.unregisterReq[key] != req {
		return false
	}
	c.finishRegLocked(&req.regRequest)
	delete(c.unregisterReq, key)
	c.updateGaugesLocked()
	return true
}

// CancelUnregister forgets the pending unregistration with target. A late
// response is then ignored. It returns false if nothing was pending.
func (c *Client) CancelUnregister(target jid.JID) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	req, ok := c.unregisterReq[jidKey(target)]
	if !ok {
		return false
	}
	c.finishRegLocked(&req.regRequest)
	delete(c.unregisterReq, jidKey(target))
	c.updateGaugesLocked()
	return true
}

// QueryRequirements asks target which fields it needs for a registration.
// fn is called exactly once with the parsed form or the gateway's error.
func (c *Client) QueryRequirements(target jid.JID, fn RequirementsFunc) error {
	if err := c.checkRegTarget(target); err != nil {
		return err
	}

	key := jidKey(target)
	iq := NewIQ(IQ_TYPE_GET, target, NewQuery(NS_REGISTER))

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return ErrClientClosed
	}
	if _, ok := c.requirementsReq[key]; ok {
		c.lock.Unlock()
		return NewRequestError(key, "query requirements", ErrRequestPending)
	}
	req := &requirementsRequest{
		regRequest: regRequest{kind: KIND_REQUIREMENTS, target: target, id: iq.ID, started: c.clock.Now()},
		fn:         fn,
	}
	req.handlerID = c.addHandlerLocked(func(iq *IQ) bool { return c.onRequirementsIQ(req, iq) })
	c.requirementsReq[key] = req
	c.updateGaugesLocked()
	c.lock.Unlock()

	c.logger.log(DEBUG, "Querying registration requirements of %s", key)
	if err := c.sendIQ(iq); err != nil {
		c.CancelRequirements(target)
		return NewRequestError(key, "send requirements query", err)
	}
	return nil
}

func (c *Client) onRequirementsIQ(req *requirementsRequest, iq *IQ) bool {
	key := jidKey(req.target)

	c.lock.Lock()
	if c.requirementsReq[key] != req || !matchRegResponse(&req.regRequest, iq, true) {
		c.lock.Unlock()
		return false
	}
	c.finishRegLocked(&req.regRequest)
	delete(c.requirementsReq, key)
	c.updateGaugesLocked()
	c.lock.Unlock()

	c.trackLatency(req.kind, req.started)
	if req.fn == nil {
		return true
	}
	if iq.Type == IQ_TYPE_ERROR {
		c.logger.log(WARNING, "Requirements query to %s failed: %v", key, iq.Error)
		req.fn(req.target, nil, iq.Error)
		return true
	}
	req.fn(req.target, parseRequirements(iq.Query), nil)
	return true
}

// CancelRequirements forgets the pending requirements query to target.
func (c *Client) CancelRequirements(target jid.JID) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	req, ok := c.requirementsReq[jidKey(target)]
	if !ok {
		return false
	}
	c.finishRegLocked(&req.regRequest)
	delete(c.requirementsReq, jidKey(target))
	c.updateGaugesLocked()
	return true
}

// Register submits fields to target. fn is called exactly once with nil on
// success or the gateway's error.
func (c *Client) Register(target jid.JID, fields RegistrationFields, fn RegisterFunc) error {
	if err := c.checkRegTarget(target); err != nil {
		return err
	}

	key := jidKey(target)
	iq := NewIQ(IQ_TYPE_SET, target, fields.query())

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return ErrClientClosed
	}
	if _, ok := c.registerReq[key]; ok {
		c.lock.Unlock()
		return NewRequestError(key, "register", ErrRequestPending)
	}
	req := &registerRequest{
		regRequest: regRequest{kind: KIND_REGISTER, target: target, id: iq.ID, started: c.clock.Now()},
		fields:     fields,
		fn:         fn,
	}
	req.handlerID = c.addHandlerLocked(func(iq *IQ) bool { return c.onRegisterIQ(req, iq) })
	c.registerReq[key] = req
	c.updateGaugesLocked()
	c.lock.Unlock()

	c.logger.log(DEBUG, "Registering with %s", key)
	if err := c.sendIQ(iq); err != nil {
		c.CancelRegister(target)
		return NewRequestError(key, "send registration", err)
	}
	return nil
}

func (c *Client) onRegisterIQ(req *registerRequest, iq *IQ) bool {
	key := jidKey(req.target)

	c.lock.Lock()
	if c.registerReq[key] != req || !matchRegResponse(&req.regRequest, iq, false) {
		c.lock.Unlock()
		return false
	}
	c.finishRegLocked(&req.regRequest)
	delete(c.registerReq, key)
	c.updateGaugesLocked()
	c.lock.Unlock()

	c.trackLatency(req.kind, req.started)
	var err error
	if iq.Type == IQ_TYPE_ERROR {
		err = iq.Error
		c.logger.log(WARNING, "Registration with %s failed: %v", key, iq.Error)
	} else {
		c.logger.log(DEBUG, "Registered with %s", key)
	}
	if req.fn != nil {
		req.fn(req.target, err)
	}
	return true
}

// CancelRegister forgets the pending registration with target.
func (c *Client) CancelRegister(target jid.JID) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	req, ok := c.registerReq[jidKey(target)]
	if !ok {
		return false
	}
	c.finishRegLocked(&req.regRequest)
	delete(c.registerReq, jidKey(target))
	c.updateGaugesLocked()
	return true
}

func (c *Client) checkRegTarget(target jid.JID) error {
	if err := c.ensureInitialized(); err != nil {
		return err
	}
	if target.String() == "" {
		return fmt.Errorf("target cannot be empty: %w", ErrInvalidArgument)
	}
	return nil
}

// finishRegLocked deregisters the request's handler. The caller removes the
// table entry.
func (c *Client) finishRegLocked(req *regRequest) {
	c.removeHandlerLocked(req.handlerID)
}

// matchRegResponse reports whether iq answers req. A response must come from
// the target and, when both ids are known, carry the request id. An error
// response must carry an error element. A response carrying a query in any
// other namespace is not ours. needQuery requires a registration form in a
// result, as for the answer to a GET.
func matchRegResponse(req *regRequest, iq *IQ, needQuery bool) bool {
	if !iq.IsResponse() {
		return false
	}
	from, err := iq.FromJID()
	if err != nil || !from.Equal(req.target) {
		return false
	}
	if !sameID(iq.ID, req.id) {
		return false
	}
	if ns := iq.QueryNamespace(); ns != "" && ns != NS_REGISTER {
		return false
	}
	switch iq.Type {
	case IQ_TYPE_ERROR:
		return iq.Error != nil
	default:
		return !needQuery || iq.Query != nil
	}
}
