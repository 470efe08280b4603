/*
Package client provides a Go client for the coordinator's HTTP API.

It wraps the JSON endpoints with type-safe methods so the CLI and other
tooling never build requests by hand:

	c := client.New("http://localhost:3200")
	status, err := c.Status(ctx)
	resp, err := c.AddPackages(ctx, []string{"yay"})

Every call carries a timeout; AddPackageURL gets a longer one because
the coordinator clones the PKGBUILD repository before answering. The
client holds no mutable state and is safe for concurrent use.
*/
package client
