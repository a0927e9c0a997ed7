package cluster

import "errors"

// ErrNoHealthyNodes is returned by Select when every registered node is
// excluded. The Proxy Handler maps this to HTTP 503 (spec §7's
// node-level "no_healthy_nodes").
var ErrNoHealthyNodes = errors.New("no_healthy_nodes")
