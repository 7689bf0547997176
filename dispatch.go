package go_xmppgate

// IQHandlerFunc handles an inbound IQ. It returns true when it consumed the
// stanza; false passes the stanza on to the next handler in the chain.
type IQHandlerFunc func(iq *IQ) bool

// HandlerID identifies a registered IQ handler.
type HandlerID uint64

type iqHandler struct {
	id HandlerID
	fn IQHandlerFunc
}

// AddIQHandler appends fn to the inbound handler chain.
func (c *Client) AddIQHandler(fn IQHandlerFunc) HandlerID {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.addHandlerLocked(fn)
}

// RemoveIQHandler removes a handler added with AddIQHandler.
// It returns false if the handler was not registered.
func (c *Client) RemoveIQHandler(id HandlerID) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.removeHandlerLocked(id)
}

func (c *Client) addHandlerLocked(fn IQHandlerFunc) HandlerID {
	c.nextHandlerID++
	id := HandlerID(c.nextHandlerID)
	c.handlers = append(c.handlers, &iqHandler{id: id, fn: fn})
	return id
}

func (c *Client) removeHandlerLocked(id HandlerID) bool {
	for i, h := range c.handlers {
		if h.id == id {
			c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Client) handlerActiveLocked(id HandlerID) bool {
	for _, h := range c.handlers {
		if h.id == id {
			return true
		}
	}
	return false
}

// HandleIQ delivers an inbound IQ to the handler chain, in registration
// order, until one consumes it. It returns false when no handler wanted the
// stanza, which is the normal outcome for late or unmatched responses.
//
// Transports call HandleIQ for every IQ read from the stream.
func (c *Client) HandleIQ(iq *IQ) bool {
	if iq == nil {
		return false
	}
	if err := c.ensureInitialized(); err != nil {
		return false
	}

	if m := c.GetMetrics(); m != nil {
		m.IncrementStanzaReceived(stanzaKind(iq))
	}

	c.lock.Lock()
	chain := append([]*iqHandler(nil), c.handlers...)
	c.lock.Unlock()

	for _, h := range chain {
		c.lock.Lock()
		active := c.handlerActiveLocked(h.id)
		c.lock.Unlock()
		if !active {
			continue
		}
		if h.fn(iq) {
			return true
		}
	}

	c.logger.log(DEBUG, "No handler consumed %s iq %s from %s", iq.Type, iq.ID, iq.From)
	if iq.IsResponse() {
		c.trackError("stale")
	}
	return false
}
