// Package go_xmppgate drives the XMPP exchanges a client needs to work with
// transport gateways: service discovery (XEP-0030) to find gateways and
// learn their type, and in-band registration (XEP-0077) to query, create and
// remove an account with them. A TransportAccountList follows a roster and
// keeps one TransportAccount per gateway on it.
//
// The package does not own a connection. Outbound stanzas go to a Transport;
// the application feeds every inbound IQ to Client.HandleIQ (or lets
// Client.ProcessStream decode them from a reader). Responses are correlated
// with pending requests by sender address and IQ id.
//
// Every operation is asynchronous and reports through a callback that runs
// on the goroutine delivering the response or firing the timeout, never with
// the client's lock held. Blocking wrappers such as RequestItemsSync and
// QueryRequirementsSync are provided for simple programs.
//
//	client := go_xmppgate.NewClient(go_xmppgate.NewWriterTransport(conn), nil)
//	go client.ProcessStream(ctx, conn)
//
//	server, _ := jid.Parse("example.com")
//	_, err := client.RequestItems(server, func(p go_xmppgate.DiscoProgress) {
//	    if p.Item != nil && p.Item.Info().HasIdentity("gateway", "") {
//	        fmt.Println("found gateway", p.Item.JID())
//	    }
//	})
package go_xmppgate
