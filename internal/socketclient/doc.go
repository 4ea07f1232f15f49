// Package socketclient talks to a running core over its IPC endpoint.
//
// A Client multiplexes any number of concurrent calls over one connection,
// matching responses to requests by id, and exposes unsolicited events on a
// channel:
//
//	c, err := socketclient.Dial(ctx, config.DefaultSocketPath())
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	var accounts socketclient.Accounts
//	if err := c.CallResult(ctx, ipc.MethodAuthGetAccounts, nil, &accounts); err != nil {
//		return err
//	}
//
// Errors returned by the core are *ipc.Error values and can be inspected with
// errors.As.
package socketclient
