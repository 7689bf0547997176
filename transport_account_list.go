package go_xmppgate

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"mellium.im/xmpp/jid"
)

// RosterObserver is notified of roster changes.
type RosterObserver interface {
	ItemAdded(j jid.JID)
	ItemRemoved(j jid.JID)
}

// Roster is the contact list of one logged-in session. Persistence and
// subscription handling stay with the implementation.
type Roster interface {
	Contacts() []jid.JID
	RemoveContact(j jid.JID) error
	Subscribe(o RosterObserver) (unsubscribe func())
}

// AccountListCallbacks reports changes to a TransportAccountList. Every
// field is optional.
type AccountListCallbacks struct {
	Opaque interface{}

	OnAccountAdded   func(l *TransportAccountList, a *TransportAccount)
	OnAccountRemoved func(l *TransportAccountList, a *TransportAccount)
	// OnAccountUpdated fires when disco info or the registration form of an
	// account has been received.
	OnAccountUpdated func(l *TransportAccountList, a *TransportAccount)
}

// TransportAccountList holds the gateway accounts found on one roster. Every
// service address added to the roster becomes an account, enriched with its
// disco identity and registration form as they arrive.
type TransportAccountList struct {
	client      *Client
	roster      Roster
	callbacks   AccountListCallbacks
	unsubscribe func()

	mu       sync.Mutex
	accounts []*TransportAccount
	closed   bool
}

// NewTransportAccountList creates a list following roster and registers it
// with the client. callbacks may be nil.
func NewTransportAccountList(c *Client, roster Roster, callbacks *AccountListCallbacks) (*TransportAccountList, error) {
	if err := c.ensureInitialized(); err != nil {
		return nil, err
	}
	if roster == nil {
		return nil, fmt.Errorf("roster cannot be nil: %w", ErrInvalidArgument)
	}

	l := &TransportAccountList{client: c, roster: roster}
	if callbacks != nil {
		l.callbacks = *callbacks
	}

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil, ErrClientClosed
	}
	c.accountLists = append(c.accountLists, l)
	c.lock.Unlock()

	l.unsubscribe = roster.Subscribe(l)
	return l, nil
}

// Roster returns the roster the list follows.
func (l *TransportAccountList) Roster() Roster {
	return l.roster
}

// Accounts returns the accounts in roster order.
func (l *TransportAccountList) Accounts() []*TransportAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*TransportAccount(nil), l.accounts...)
}

// Len returns the number of accounts.
func (l *TransportAccountList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.accounts)
}

// FindByType returns the first account of the given gateway type, or nil.
func (l *TransportAccountList) FindByType(t GatewayType) *TransportAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.accounts {
		if a.Type() == t {
			return a
		}
	}
	return nil
}

// Contains reports whether a belongs to the list.
func (l *TransportAccountList) Contains(a *TransportAccount) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.indexLocked(a) >= 0
}

func (l *TransportAccountList) indexLocked(a *TransportAccount) int {
	for i, x := range l.accounts {
		if x == a {
			return i
		}
	}
	return -1
}

// ItemAdded turns a new service address on the roster into an account and
// starts learning its type and credentials.
func (l *TransportAccountList) ItemAdded(j jid.JID) {
	if !IsServiceJID(j) {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	for _, a := range l.accounts {
		if BareEqual(a.jid, j) {
			l.mu.Unlock()
			return
		}
	}
	a := newTransportAccount(j)
	l.accounts = append(l.accounts, a)
	l.mu.Unlock()

	l.client.logger.log(DEBUG, "Added %s account for %s", a.Type(), j)
	if l.callbacks.OnAccountAdded != nil {
		l.callbacks.OnAccountAdded(l, a)
	}
	l.enrich(a)
}

// enrich requests disco info and the registration form for a. Each pending
// request holds a reference to the account.
func (l *TransportAccountList) enrich(a *TransportAccount) {
	c := l.client

	a.Ref()
	_, created, err := c.requestInfo(a.jid, func(p DiscoProgress) {
		defer a.Unref()
		if p.Item != nil && p.Err == nil && !p.TimedOut {
			if info := p.Item.Info(); info != nil {
				a.applyInfo(info)
				l.updated(a)
			}
		} else {
			c.logger.log(DEBUG, "No disco info for %s (timed out: %v, err: %v)", a.jid, p.TimedOut, p.Err)
		}
		p.Session.Destroy()
	})
	if err != nil || !created {
		a.Unref()
		if err != nil {
			c.logger.log(WARNING, "Disco info request for %s failed: %v", a.jid, err)
		}
	}

	a.Ref()
	err = c.QueryRequirements(a.jid, func(_ jid.JID, req *Requirements, err error) {
		defer a.Unref()
		if err != nil {
			c.logger.log(DEBUG, "No registration form from %s: %v", a.jid, err)
			return
		}
		a.applyRequirements(req)
		l.updated(a)
	})
	if err != nil {
		a.Unref()
		c.logger.log(WARNING, "Requirements query for %s failed: %v", a.jid, err)
	}
}

func (l *TransportAccountList) updated(a *TransportAccount) {
	if !l.Contains(a) {
		return
	}
	if l.callbacks.OnAccountUpdated != nil {
		l.callbacks.OnAccountUpdated(l, a)
	}
}

// ItemRemoved drops the account whose bare address is j.
func (l *TransportAccountList) ItemRemoved(j jid.JID) {
	l.mu.Lock()
	var removed *TransportAccount
	for i, a := range l.accounts {
		if BareEqual(a.jid, j) {
			removed = a
			l.accounts = append(l.accounts[:i:i], l.accounts[i+1:]...)
			break
		}
	}
	l.mu.Unlock()

	if removed == nil {
		return
	}
	l.client.logger.log(DEBUG, "Removed account for %s", removed.jid)
	if l.callbacks.OnAccountRemoved != nil {
		l.callbacks.OnAccountRemoved(l, removed)
	}
	removed.Unref()
}

// Remove deletes every contact the user has on the gateway, then the gateway
// itself, then unregisters from it. The account leaves the list when the
// roster reports the gateway's removal. Failures of individual steps do not
// stop the others and are returned together.
func (l *TransportAccountList) Remove(a *TransportAccount) error {
	if a == nil {
		return fmt.Errorf("account cannot be nil: %w", ErrInvalidArgument)
	}
	c := l.client

	var errs error
	for _, contact := range l.roster.Contacts() {
		if SameHost(contact, a.jid) && !BareEqual(contact, a.jid) {
			errs = multierr.Append(errs, l.roster.RemoveContact(contact))
		}
	}
	errs = multierr.Append(errs, l.roster.RemoveContact(a.jid))
	errs = multierr.Append(errs, c.Unregister(a.jid, func(target jid.JID, err error) {
		if err != nil {
			c.logger.log(WARNING, "Unregistering from %s failed: %v", target, err)
		}
	}))
	return errs
}

// Close stops following the roster, releases every account and removes the
// list from the client.
func (l *TransportAccountList) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	accounts := l.accounts
	l.accounts = nil
	l.mu.Unlock()

	if l.unsubscribe != nil {
		l.unsubscribe()
	}
	for _, a := range accounts {
		a.Unref()
	}

	c := l.client
	c.lock.Lock()
	for i, x := range c.accountLists {
		if x == l {
			c.accountLists = append(c.accountLists[:i:i], c.accountLists[i+1:]...)
			break
		}
	}
	c.lock.Unlock()
}

func (c *Client) accountListsSnapshot() []*TransportAccountList {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]*TransportAccountList(nil), c.accountLists...)
}

// AccountListFor returns the list that owns a, or nil.
func (c *Client) AccountListFor(a *TransportAccount) *TransportAccountList {
	for _, l := range c.accountListsSnapshot() {
		if l.Contains(a) {
			return l
		}
	}
	return nil
}

// CountContacts returns how many roster contacts live on a's gateway host,
// not counting the gateway itself.
func (c *Client) CountContacts(a *TransportAccount) int {
	l := c.AccountListFor(a)
	if l == nil {
		return 0
	}
	n := 0
	for _, contact := range l.roster.Contacts() {
		if SameHost(contact, a.jid) && !BareEqual(contact, a.jid) {
			n++
		}
	}
	return n
}

// AllAccounts returns the accounts of every open list.
func (c *Client) AllAccounts() []*TransportAccount {
	var out []*TransportAccount
	for _, l := range c.accountListsSnapshot() {
		out = append(out, l.Accounts()...)
	}
	return out
}
